//go:build nopanichook

package panichook

const Available = false

func install(cfg Config) error {
	if cfg.Enabled {
		logger().Debug("Panic hook disabled at build time")
	}
	return nil
}
