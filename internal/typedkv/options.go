package typedkv

import "typed_kv_store/internal/kvstore"

type getOptions struct {
	def        any
	hasDefault bool
	persist    bool
}

// GetOption configures Get and GetWithSetter.
type GetOption func(*getOptions)

func newGetOptions(opts []GetOption) getOptions {
	o := getOptions{persist: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDefault makes Get return value when the key is absent. The default is
// also stored under the key unless WithoutPersist is given.
func WithDefault(value any) GetOption {
	return func(o *getOptions) {
		o.def = value
		o.hasDefault = true
	}
}

// WithoutPersist keeps Get from storing the default it returns.
func WithoutPersist() GetOption {
	return func(o *getOptions) {
		o.persist = false
	}
}

// Updater computes a new value from the previous one.
type Updater func(prev any) any

// Setter stores either a literal value or, given an Updater (or a plain
// func(any) any), the result of applying it to the current value. It returns
// the value that was stored.
type Setter func(update any) (any, error)

// GetWithSetter returns the current value of key together with a Setter
// bound to it. An updater passed to the Setter sees the value stored at that
// time, or the default given here when the key is still absent. The read and
// the later write are not atomic.
func (s *Store) GetWithSetter(key string, opts ...GetOption) (any, Setter, error) {
	if err := kvstore.ValidateKey("get", key); err != nil {
		return nil, nil, err
	}
	o := newGetOptions(opts)

	value, err := s.get(key, o)
	if err != nil {
		return nil, nil, err
	}

	setter := func(update any) (any, error) {
		next := update
		var fn Updater
		switch u := update.(type) {
		case Updater:
			fn = u
		case func(any) any:
			fn = u
		}
		if fn != nil {
			prev, err := s.get(key, getOptions{def: o.def, hasDefault: o.hasDefault})
			if err != nil {
				return nil, err
			}
			next = fn(prev)
		}
		if err := s.Set(key, next); err != nil {
			return nil, err
		}
		return next, nil
	}
	return value, setter, nil
}
