package flashfs

// Format erases bd and writes an empty volume with the layout given by cfg.
// Unlike Mount, which only formats devices without a file table, Format
// also wipes valid volumes. The device must be mounted afterwards.
func Format(bd BlockDevice, cfg Config) error {
	if bd == nil {
		return ErrParam
	}
	var fsys FS
	if err := fsys.configure(bd, cfg); err != nil {
		return err
	}
	return fsys.format_volume()
}
