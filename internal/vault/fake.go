package vault

import (
	"context"
	"os"
)

// FakeDriver is an in-memory Driver double for tests.
type FakeDriver struct {
	Keys        map[string]string // secretName -> key material
	FetchMisses map[string]bool
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Keys: map[string]string{}, FetchMisses: map[string]bool{}}
}

func (f *FakeDriver) TryFetchKey(ctx context.Context, vm, rg, localPath string) (bool, error) {
	name := secretName(rg, vm)
	if f.FetchMisses[name] {
		return false, nil
	}
	key, ok := f.Keys[name]
	if !ok {
		return false, nil
	}
	return true, os.WriteFile(localPath, []byte(key), 0o600)
}

func (f *FakeDriver) PushKey(ctx context.Context, vm, rg, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.Keys[secretName(rg, vm)] = string(data)
	return nil
}
