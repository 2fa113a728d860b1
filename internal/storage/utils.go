package storage

// InitStore runs pending migrations from migrationsDir, then opens the store.
func InitStore(driver, dsn, migrationsDir string) (*SQLStore, error) {
	if migrationsDir != "" {
		if err := Migrate(driver, dsn, migrationsDir); err != nil {
			return nil, err
		}
	}
	store, err := NewSQLStore(driver, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}
