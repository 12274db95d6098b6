package mbox

import (
	"github.com/infodancer/mailstore"
)

func init() {
	mailstore.Register("mbox", mailstore.Driver{
		New: func(cfg mailstore.Config) (mailstore.Store, error) {
			return New(cfg)
		},
		Autodetect: Autodetect,
	})
}
