package collab

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Follow subscribes the synchronizer to configuration snapshots from v.
// Whenever ConfigKey resolves to a non-empty string, that string becomes the
// endpoint address and a (re)connect is triggered. Snapshots without the key
// are ignored; the synchronizer stays inert until the first address is seen.
//
// Follow also watches v's config file for changes, so editing the
// configuration moves the synchronizer to the new endpoint.
func (s *Synchronizer) Follow(v *viper.Viper) {
	apply := func() {
		addr := v.GetString(ConfigKey)
		if addr == "" {
			return
		}
		s.SetAddress(addr)
		s.Connect()
	}

	v.OnConfigChange(func(fsnotify.Event) {
		apply()
	})
	v.WatchConfig()
	apply()
}
