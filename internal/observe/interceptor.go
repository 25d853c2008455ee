package observe

import "typed_kv_store/internal/kvstore"

// interceptor forwards to the wrapped store and, after a successful Write or
// Delete, hands the key to the registry. Reads pass straight through.
type interceptor struct {
	kvstore.Store
	registry *Registry
}

func (i *interceptor) Write(key string, value []byte) error {
	if err := i.Store.Write(key, value); err != nil {
		return err
	}
	i.registry.notifyWrite(key)
	return nil
}

func (i *interceptor) Delete(key string) error {
	if err := i.Store.Delete(key); err != nil {
		return err
	}
	i.registry.notifyDelete(key)
	return nil
}
