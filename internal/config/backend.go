package config

// ConfigBackend abstracts where non-secret settings are stored.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	SetString(key, val string) error
	Delete(key string) error
}
