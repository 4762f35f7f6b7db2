package watcher

import (
	"fmt"
	"reflect"

	"github.com/hwendt/llmgate/internal/config"
)

// buildConfigChangeDetails computes a redacted, human-readable list of config
// changes. Secrets (management key, provider credentials, DSN) are never
// printed, only whether they changed.
func buildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	changes := make([]string, 0, 8)
	if oldCfg == nil || newCfg == nil {
		return changes
	}

	if oldCfg.Port != newCfg.Port {
		changes = append(changes, fmt.Sprintf("port: %d -> %d", oldCfg.Port, newCfg.Port))
	}
	if oldCfg.Debug != newCfg.Debug {
		changes = append(changes, fmt.Sprintf("debug: %t -> %t", oldCfg.Debug, newCfg.Debug))
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		changes = append(changes, fmt.Sprintf("logging-to-file: %t -> %t", oldCfg.LoggingToFile, newCfg.LoggingToFile))
	}
	if oldCfg.Locale != newCfg.Locale {
		changes = append(changes, fmt.Sprintf("locale: %s -> %s", oldCfg.Locale, newCfg.Locale))
	}
	if oldCfg.MaxRequestSize != newCfg.MaxRequestSize {
		changes = append(changes, fmt.Sprintf("max-request-size: %d -> %d", oldCfg.MaxRequestSize, newCfg.MaxRequestSize))
	}

	switch {
	case oldCfg.ManagementKey == "" && newCfg.ManagementKey != "":
		changes = append(changes, "management-key: added")
	case oldCfg.ManagementKey != "" && newCfg.ManagementKey == "":
		changes = append(changes, "management-key: removed")
	case oldCfg.ManagementKey != newCfg.ManagementKey:
		changes = append(changes, "management-key: updated")
	}

	if oldCfg.Usage.DSN != newCfg.Usage.DSN {
		changes = append(changes, "usage.dsn: updated (redacted)")
	}
	if oldCfg.Usage.RetentionDays != newCfg.Usage.RetentionDays {
		changes = append(changes, fmt.Sprintf("usage.retention-days: %d -> %d", oldCfg.Usage.RetentionDays, newCfg.Usage.RetentionDays))
	}
	if oldCfg.Usage.Estimator != newCfg.Usage.Estimator {
		changes = append(changes, fmt.Sprintf("usage.estimator: %s -> %s", oldCfg.Usage.Estimator, newCfg.Usage.Estimator))
	}
	if oldCfg.Usage.CharsPerToken != newCfg.Usage.CharsPerToken {
		changes = append(changes, fmt.Sprintf("usage.chars-per-token: %g -> %g", oldCfg.Usage.CharsPerToken, newCfg.Usage.CharsPerToken))
	}

	if len(oldCfg.Providers) != len(newCfg.Providers) {
		changes = append(changes, fmt.Sprintf("providers count: %d -> %d", len(oldCfg.Providers), len(newCfg.Providers)))
	} else if !reflect.DeepEqual(redactProviders(oldCfg.Providers), redactProviders(newCfg.Providers)) {
		changes = append(changes, "providers: updated")
	} else if providerKeysChanged(oldCfg.Providers, newCfg.Providers) {
		changes = append(changes, "providers: credentials updated (redacted)")
	}

	if len(oldCfg.Models) != len(newCfg.Models) {
		changes = append(changes, fmt.Sprintf("models count: %d -> %d", len(oldCfg.Models), len(newCfg.Models)))
	} else if !reflect.DeepEqual(oldCfg.Models, newCfg.Models) {
		changes = append(changes, "models: updated")
	}

	return changes
}

// redactProviders blanks the credential field so DeepEqual compares only
// structure.
func redactProviders(providers []config.Provider) []config.Provider {
	out := append([]config.Provider(nil), providers...)
	for i := range out {
		out[i].APIKey = ""
	}
	return out
}

func providerKeysChanged(oldList, newList []config.Provider) bool {
	for i := range oldList {
		if oldList[i].APIKey != newList[i].APIKey {
			return true
		}
	}
	return false
}
