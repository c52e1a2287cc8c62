// Package settings describes and edits the settings/system document shared
// with the mobile app. Every editable key is declared in Schema with its kind,
// bounds and default.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the value type of a settings key
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindString Kind = "string"
	KindEnum   Kind = "enum"
)

// Field declares one key. Key is a dotted path inside the document.
type Field struct {
	Key         string
	Kind        Kind
	Default     interface{}
	Min         int64
	Max         int64
	Options     []string
	Description string
}

// Schema lists every editable key in display order
var Schema = []Field{
	{Key: "schoolName", Kind: KindString, Default: "Colegio de San Agustin", Description: "School display name"},
	{Key: "schoolCode", Kind: KindString, Default: "CCA", Description: "Short school code"},
	{Key: "schoolAddress", Kind: KindString, Default: "Makati City, Metro Manila", Description: "School address"},
	{Key: "emailNotifications", Kind: KindBool, Default: true, Description: "Send email notifications"},
	{Key: "smsAlerts", Kind: KindBool, Default: true, Description: "Send SMS alerts"},
	{Key: "autoLogoutTimer", Kind: KindInt, Default: int64(30), Min: 5, Max: 240, Description: "Idle minutes before logout"},

	{Key: "passwordRequirements.minLength", Kind: KindInt, Default: int64(8), Min: 6, Max: 64},
	{Key: "passwordRequirements.expiryDays", Kind: KindInt, Default: int64(90), Min: 0, Max: 365, Description: "0 disables expiry"},
	{Key: "passwordRequirements.requireUppercase", Kind: KindBool, Default: true},
	{Key: "passwordRequirements.requireNumbers", Kind: KindBool, Default: true},
	{Key: "passwordRequirements.requireSpecialChars", Kind: KindBool, Default: false},

	{Key: "securitySettings.maxLoginAttempts", Kind: KindInt, Default: int64(5), Min: 1, Max: 20},
	{Key: "securitySettings.lockoutDuration", Kind: KindInt, Default: int64(30), Min: 1, Max: 1440, Description: "Lockout minutes"},

	{Key: "notificationSettings.newUserRegistration", Kind: KindBool, Default: true},
	{Key: "notificationSettings.tripUpdates", Kind: KindBool, Default: true},
	{Key: "notificationSettings.sosAlerts", Kind: KindBool, Default: true},
	{Key: "notificationSettings.systemErrors", Kind: KindBool, Default: true},
	{Key: "notificationSettings.emergencyAlerts", Kind: KindBool, Default: true},
	{Key: "notificationSettings.tripUpdatesSMS", Kind: KindBool, Default: false},

	{Key: "backupSettings.autoBackup", Kind: KindBool, Default: false, Description: "Run scheduled backups"},
	{Key: "backupSettings.backupFrequency", Kind: KindEnum, Default: "weekly", Options: []string{"daily", "weekly", "monthly"}},
	{Key: "backupSettings.retentionDays", Kind: KindInt, Default: int64(30), Min: 1, Max: 365},
	{Key: "backupSettings.retentionLimit", Kind: KindInt, Default: int64(50), Min: 1, Max: 1000},
	{Key: "backupSettings.defaultBackupType", Kind: KindEnum, Default: "full", Options: []string{"full", "users", "messages", "locations", "settings"}},
	{Key: "backupSettings.defaultFormat", Kind: KindEnum, Default: "json", Options: []string{"json", "csv"}},
}

// Lookup finds a key in Schema
func Lookup(key string) (Field, bool) {
	for _, f := range Schema {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Parse converts command-line or form input into the field's stored type
func (f Field) Parse(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)

	var value interface{}
	switch f.Kind {
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", f.Key, raw)
		}
		value = b
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", f.Key, raw)
		}
		value = n
	case KindString, KindEnum:
		value = raw
	default:
		return nil, fmt.Errorf("%s: unknown kind %s", f.Key, f.Kind)
	}

	if err := f.Validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

// Validate checks a value already in stored form
func (f Field) Validate(value interface{}) error {
	switch f.Kind {
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected a boolean", f.Key)
		}
	case KindInt:
		n, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("%s: expected an integer", f.Key)
		}
		if n < f.Min || n > f.Max {
			return fmt.Errorf("%s: must be between %d and %d", f.Key, f.Min, f.Max)
		}
	case KindString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected a string", f.Key)
		}
		if s == "" {
			return fmt.Errorf("%s: cannot be empty", f.Key)
		}
	case KindEnum:
		s, _ := value.(string)
		for _, opt := range f.Options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("%s: must be one of %s", f.Key, strings.Join(f.Options, ", "))
	}
	return nil
}

// Defaults returns a fresh settings document built from Schema
func Defaults() map[string]interface{} {
	doc := map[string]interface{}{
		"version": DocumentVersion,
	}
	for _, f := range Schema {
		setPath(doc, f.Key, f.Default)
	}
	return doc
}

// Flatten picks every Schema key out of a settings document
func Flatten(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(Schema))
	for _, f := range Schema {
		if v, ok := getPath(doc, f.Key); ok {
			out[f.Key] = v
		}
	}
	return out
}

func setPath(doc map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func getPath(doc map[string]interface{}, key string) (interface{}, bool) {
	parts := strings.Split(key, ".")
	var current interface{} = doc
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
