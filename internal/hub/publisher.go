package hub

import (
	"io"
	"log"

	"typed_kv_store/internal/kvstore"
)

type Publisher interface {
	Publish(change kvstore.Change) error
}

// PublishingStore announces every successful Write and Delete on the wrapped
// store. Publish failures are logged; the local operation still succeeds.
type PublishingStore struct {
	kvstore.Store
	publisher Publisher
	logger    *log.Logger
}

func NewPublishingStore(store kvstore.Store, publisher Publisher, logger *log.Logger) *PublishingStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &PublishingStore{Store: store, publisher: publisher, logger: logger}
}

func (p *PublishingStore) Write(key string, value []byte) error {
	if err := p.Store.Write(key, value); err != nil {
		return err
	}
	if err := p.publisher.Publish(kvstore.Change{Key: key, Value: value}); err != nil {
		p.logger.Printf("hub: publish %q: %v", key, err)
	}
	return nil
}

func (p *PublishingStore) Delete(key string) error {
	if err := p.Store.Delete(key); err != nil {
		return err
	}
	if err := p.publisher.Publish(kvstore.Change{Key: key, Deleted: true}); err != nil {
		p.logger.Printf("hub: publish delete %q: %v", key, err)
	}
	return nil
}
