package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// StatusAliases maps provider specific status strings to canonical payment
// statuses on top of the built-in normalization table.
type StatusAliases map[string]string

type StatusAliasHolder struct {
	current atomic.Value // holds StatusAliases
}

// NewStatusAliasHolder reads payment.statusAliases from payflow.yml and keeps
// it fresh while the file changes. A missing file yields an empty alias set.
func NewStatusAliasHolder() (*StatusAliasHolder, error) {
	v := viper.New()

	v.SetConfigName("payflow")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &StatusAliasHolder{}
	holder.current.Store(StatusAliases{})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return holder, nil
	}

	aliases, err := readStatusAliases(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(aliases)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readStatusAliases(v)
		if err != nil {
			log.Printf("[payflow-config] invalid status aliases ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payflow-config] status aliases reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticStatusAliasHolder returns a holder that never reloads.
func NewStaticStatusAliasHolder(aliases StatusAliases) *StatusAliasHolder {
	holder := &StatusAliasHolder{}
	if aliases == nil {
		aliases = StatusAliases{}
	}
	holder.current.Store(normalizeAliases(aliases))
	return holder
}

func (h *StatusAliasHolder) Get() StatusAliases {
	if h == nil {
		return StatusAliases{}
	}
	return h.current.Load().(StatusAliases)
}

func readStatusAliases(v *viper.Viper) (StatusAliases, error) {
	raw := v.GetStringMapString("payment.statusAliases")
	aliases := normalizeAliases(raw)
	if err := validateStatusAliases(aliases); err != nil {
		return nil, err
	}
	return aliases, nil
}

func normalizeAliases(raw map[string]string) StatusAliases {
	out := make(StatusAliases, len(raw))
	for key, value := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.TrimSpace(value))
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func validateStatusAliases(aliases StatusAliases) error {
	for key, value := range aliases {
		if value == "" {
			return errors.New("payment.statusAliases." + key + " cannot be empty")
		}
	}
	return nil
}
