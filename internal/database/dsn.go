package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/JonMunkholm/csvsink/internal/config"
)

var defaultPorts = map[string]int{
	"postgres":  5432,
	"mysql":     3306,
	"sqlserver": 1433,
}

// DSN returns the connection string for cfg. An explicit URL wins;
// otherwise one is assembled from the individual settings.
func DSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	switch cfg.Driver {
	case "postgres", "":
		return postgresDSN(cfg), nil
	case "mysql":
		return mysqlDSN(cfg), nil
	case "sqlite":
		if cfg.Name == "" {
			return "", fmt.Errorf("DB_NAME is required for sqlite")
		}
		return cfg.Name + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case "sqlserver":
		return sqlserverDSN(cfg), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func hostPort(cfg config.DatabaseConfig, driver string) string {
	port := cfg.Port
	if port == 0 {
		port = defaultPorts[driver]
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func userinfo(cfg config.DatabaseConfig) *url.Userinfo {
	if cfg.Password == "" {
		return url.User(cfg.User)
	}
	return url.UserPassword(cfg.User, cfg.Password)
}

func postgresDSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     userinfo(cfg),
		Host:     hostPort(cfg, "postgres"),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func mysqlDSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = hostPort(cfg, "mysql")
	mc.DBName = cfg.Name
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if cfg.SSLMode == "require" || cfg.SSLMode == "verify-full" {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

func sqlserverDSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Name)
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connection timeout", strconv.Itoa(secs))
	}
	if cfg.SSLMode == "disable" {
		q.Set("encrypt", "disable")
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     userinfo(cfg),
		Host:     hostPort(cfg, "sqlserver"),
		RawQuery: q.Encode(),
	}
	return u.String()
}
