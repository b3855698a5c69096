package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// databaseTarget describes a DSN without its credentials.
type databaseTarget struct {
	Kind    string
	Host    string
	Port    int
	User    string
	Name    string
	SSLMode string
	Path    string
}

// Fields renders the target for structured logs.
func (d databaseTarget) Fields() log.Fields {
	if d.Kind == "sqlite" {
		return log.Fields{"db": d.Kind, "db_path": d.Path}
	}
	return log.Fields{
		"db":       d.Kind,
		"db_host":  fmt.Sprintf("%s:%d", d.Host, d.Port),
		"db_user":  d.User,
		"db_name":  d.Name,
		"ssl_mode": d.SSLMode,
	}
}

func describeDSN(dsn string) (databaseTarget, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return databaseTarget{}, fmt.Errorf("empty dsn")
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") {
		pathPart, _, _ := strings.Cut(trimmed[len("file:"):], "?")
		return databaseTarget{Kind: "sqlite", Path: strings.TrimSpace(pathPart)}, nil
	}
	if !strings.Contains(trimmed, "://") {
		if strings.Contains(trimmed, "=") {
			return describeKeywordDSN(trimmed), nil
		}
		return databaseTarget{Kind: "sqlite", Path: trimmed}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return databaseTarget{}, fmt.Errorf("parse dsn: %w", errParse)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return databaseTarget{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}
		username := ""
		if u.User != nil {
			username = strings.TrimSpace(u.User.Username())
		}
		sslMode := strings.TrimSpace(u.Query().Get("sslmode"))
		if sslMode == "" {
			sslMode = "disable"
		}
		return databaseTarget{
			Kind:    "postgres",
			Host:    strings.TrimSpace(u.Hostname()),
			Port:    port,
			User:    username,
			Name:    strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			SSLMode: sslMode,
		}, nil
	default:
		return databaseTarget{}, fmt.Errorf("unsupported dsn scheme %q", u.Scheme)
	}
}

// describeKeywordDSN reads the host=... user=... form accepted by the postgres driver.
func describeKeywordDSN(dsn string) databaseTarget {
	target := databaseTarget{Kind: "postgres", Port: 5432, SSLMode: "disable"}
	for _, pair := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, "'")
		switch strings.ToLower(key) {
		case "host":
			target.Host = value
		case "port":
			if port, errPort := strconv.Atoi(value); errPort == nil {
				target.Port = port
			}
		case "user":
			target.User = value
		case "dbname":
			target.Name = value
		case "sslmode":
			target.SSLMode = value
		}
	}
	return target
}
