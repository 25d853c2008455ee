package kvstore

// Change describes a mutation observed on a store from outside the current
// handle. Value holds the raw stored bytes and is nil when Deleted is set.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// ChangeSource delivers changes made by other contexts sharing a store. The
// returned cancel function stops delivery to handler; it is safe to call more
// than once.
type ChangeSource interface {
	Subscribe(handler func(Change)) (cancel func(), err error)
}
