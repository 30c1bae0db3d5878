package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// maxSuggestionDistance bounds how different a typo may be from a real key
// before no suggestion is offered.
const maxSuggestionDistance = 4

type keyAccessor struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// keyTable maps dotted config paths to accessors.
//
//nolint:gochecknoglobals // Static lookup table
var keyTable = map[string]keyAccessor{
	"home":                           stringKey(func(c *Config) *string { return &c.Home }),
	"server.url":                     urlKey(func(c *Config) *string { return &c.Server.URL }),
	"server.auth_url":                urlKey(func(c *Config) *string { return &c.Server.AuthURL }),
	"server.auth_mode":               enumKey(func(c *Config) *string { return &c.Server.AuthMode }, "http", "oauth2"),
	"server.oauth2.client_id":        stringKey(func(c *Config) *string { return &c.Server.OAuth2.ClientID }),
	"server.oauth2.client_secret":    stringKey(func(c *Config) *string { return &c.Server.OAuth2.ClientSecret }),
	"server.oauth2.token_url":        urlKey(func(c *Config) *string { return &c.Server.OAuth2.TokenURL }),
	"server.oauth2.issuer":           urlKey(func(c *Config) *string { return &c.Server.OAuth2.Issuer }),
	"replica.path":                   stringKey(func(c *Config) *string { return &c.Replica.Path }),
	"replica.sync_interval_seconds":  intKey(func(c *Config) *int { return &c.Replica.SyncIntervalSeconds }, 0),
	"retry.max_delay_seconds":        intKey(func(c *Config) *int { return &c.Retry.MaxDelaySeconds }, 1),
	"retry.scale":                    floatKey(func(c *Config) *float64 { return &c.Retry.Scale }),
	"retry.workers":                  intKey(func(c *Config) *int { return &c.Retry.Workers }, 1),
	"retry.rate_per_second":          floatKey(func(c *Config) *float64 { return &c.Retry.RatePerSecond }),
	"retry.burst":                    intKey(func(c *Config) *int { return &c.Retry.Burst }, 1),
	"network.probe_address":          stringKey(func(c *Config) *string { return &c.Network.ProbeAddress }),
	"network.probe_interval_seconds": intKey(func(c *Config) *int { return &c.Network.ProbeIntervalSeconds }, 1),
	"network.probe_timeout_seconds":  intKey(func(c *Config) *int { return &c.Network.ProbeTimeoutSeconds }, 1),
	"credentials.provider":           stringKey(func(c *Config) *string { return &c.Credentials.Provider }),
	"credentials.identity":           stringKey(func(c *Config) *string { return &c.Credentials.Identity }),
	"credentials.file":               stringKey(func(c *Config) *string { return &c.Credentials.File }),
	"refresh.margin_seconds":         intKey(func(c *Config) *int { return &c.Refresh.MarginSeconds }, 0),
	"events.addr":                    stringKey(func(c *Config) *string { return &c.Events.Addr }),
	"metrics.addr":                   stringKey(func(c *Config) *string { return &c.Metrics.Addr }),
	"journal.path":                   stringKey(func(c *Config) *string { return &c.Journal.Path }),
	"output.default_format":          enumKey(func(c *Config) *string { return &c.Output.DefaultFormat }, "text", "json", "auto"),
	"output.color":                   enumKey(func(c *Config) *string { return &c.Output.Color }, "auto", "always", "never"),
	"output.verbose":                 boolKey(func(c *Config) *bool { return &c.Output.Verbose }),
	"logging.level":                  enumKey(func(c *Config) *string { return &c.Logging.Level }, "off", "error", "debug"),
	"logging.file":                   stringKey(func(c *Config) *string { return &c.Logging.File }),
}

// Keys returns every settable dotted config path, sorted.
func Keys() []string {
	keys := make([]string, 0, len(keyTable))
	for k := range keyTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value at a dotted config path.
func (c *Config) Get(path string) (string, error) {
	acc, err := lookupKey(path)
	if err != nil {
		return "", err
	}
	return acc.get(c), nil
}

// Set parses and stores value at a dotted config path.
func (c *Config) Set(path, value string) error {
	acc, err := lookupKey(path)
	if err != nil {
		return err
	}
	return acc.set(c, value)
}

// Suggest returns the known key closest to path, or "" if none is close.
func Suggest(path string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1
	for _, k := range Keys() {
		d := levenshtein.ComputeDistance(path, k)
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func lookupKey(path string) (keyAccessor, error) {
	path = strings.ToLower(strings.TrimSpace(path))
	if acc, ok := keyTable[path]; ok {
		return acc, nil
	}

	err := syncerr.WithDetails(syncerr.ErrUnknownConfigKey, map[string]string{"key": path})
	if s := Suggest(path); s != "" {
		err = syncerr.WithSuggestion(err, "Did you mean '"+s+"'?")
	}
	return keyAccessor{}, err
}

func invalidValue(value, valid string) error {
	return syncerr.WithDetails(syncerr.ErrInvalidInput, map[string]string{"value": value, "valid": valid})
}

func stringKey(field func(*Config) *string) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = strings.TrimSpace(v)
			return nil
		},
	}
}

func urlKey(field func(*Config) *string) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = SanitizeURL(v)
			return nil
		},
	}
}

func enumKey(field func(*Config) *string, allowed ...string) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			v = strings.ToLower(strings.TrimSpace(v))
			for _, a := range allowed {
				if v == a {
					*field(c) = v
					return nil
				}
			}
			return invalidValue(v, strings.Join(allowed, ", "))
		},
	}
}

func intKey(field func(*Config) *int, minimum int) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < minimum {
				return invalidValue(v, "integer >= "+strconv.Itoa(minimum))
			}
			*field(c) = n
			return nil
		},
	}
}

func floatKey(field func(*Config) *float64) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f <= 0 {
				return invalidValue(v, "positive number")
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(field func(*Config) *bool) keyAccessor {
	return keyAccessor{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			*field(c) = parseBool(v)
			return nil
		},
	}
}
