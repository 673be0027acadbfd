package vault

import (
	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

// Registry is the vault record store. It implements custody.VaultStore and is
// shared with every module that needs to resolve a vault by ID.
type Registry struct {
	bucket orm.Bucket
}

// NewRegistry returns the vault registry.
func NewRegistry() *Registry {
	return &Registry{bucket: orm.NewBucket("vault")}
}

// Vault loads a registry record. Every call returns a fresh copy.
func (r *Registry) Vault(db store.ReadOnlyKVStore, id custody.VaultID) (*custody.Vault, error) {
	var v custody.Vault
	if err := r.bucket.One(db, []byte(id), &v); err != nil {
		return nil, errors.Wrapf(err, "vault %s", id)
	}
	return &v, nil
}

// PutVault persists a registry record.
func (r *Registry) PutVault(db store.KVStore, v *custody.Vault) error {
	return r.bucket.Put(db, []byte(v.ID), v)
}

// Has reports whether a vault with this ID exists.
func (r *Registry) Has(db store.ReadOnlyKVStore, id custody.VaultID) bool {
	return r.bucket.Has(db, []byte(id))
}
