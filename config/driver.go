package config

import "fmt"

type StorageDriver int

const (
	Memory StorageDriver = iota + 1
	Postgres
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Memory:
		return "memory"
	case Postgres:
		return "postgres"
	}
	return "unknown"
}

func ParseStorageDriver(s string) (StorageDriver, error) {
	switch s {
	case "", "memory":
		return Memory, nil
	case "postgres":
		return Postgres, nil
	}
	return 0, fmt.Errorf("unknown storage driver %q", s)
}
