package maildir

import (
	"github.com/infodancer/mailstore"
)

func init() {
	mailstore.Register("maildir", mailstore.Driver{
		New: func(cfg mailstore.Config) (mailstore.Store, error) {
			return New(cfg)
		},
		Autodetect: Autodetect,
	})
}
