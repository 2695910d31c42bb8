package localfs

import (
	"flag"
	"fmt"

	"icn.coop/mesh/storage"
	"icn.coop/mesh/storage/storeregistry"
)

var flagLocalDir string

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem store (directory)",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagLocalDir, "localfs-dir", "", "LocalFS store directory (for --backend=localfs)")
		},
		Open: func() (storage.Store, func() error, error) {
			if flagLocalDir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			store, err := New(flagLocalDir)
			return store, nil, err
		},
	})
}
