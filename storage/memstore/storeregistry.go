package memstore

import (
	"flag"

	"icn.coop/mesh/storage"
	"icn.coop/mesh/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:          "mem",
		Description:   "In-memory store (volatile; rebuilt from peer sync)",
		Usage:         storeregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (storage.Store, func() error, error) {
			return New(), nil, nil
		},
	})
}
