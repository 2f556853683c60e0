package cli

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/modules"
	"github.com/pthm/modmigrate/pkg/source"
)

const (
	maxWalkDepth = 25
)

// ConfigFileNames are searched in order during auto-discovery.
var ConfigFileNames = []string{"modmigrate.yaml", "modmigrate.yml"}

// Config represents the modmigrate configuration from modmigrate.yaml.
type Config struct {
	// RootDir is the application root. Empty means the directory holding
	// the config file, or the working directory without one.
	RootDir       string            `mapstructure:"root_dir"`
	MigrationsDir string            `mapstructure:"migrations_dir"`
	RuntimeDir    string            `mapstructure:"runtime_dir"`
	HistoryTable  string            `mapstructure:"history_table"`
	Transactional bool              `mapstructure:"transactional"`
	OnDuplicate   string            `mapstructure:"on_duplicate"`
	Interactive   bool              `mapstructure:"interactive"`
	Aliases       map[string]string `mapstructure:"aliases"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Per-command configuration
	Dump   DumpConfig   `mapstructure:"dump"`
	Doctor DoctorConfig `mapstructure:"doctor"`

	// path is the config file the values were read from.
	path string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	URL      string            `mapstructure:"url"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Name     string            `mapstructure:"name"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	SSLMode  string            `mapstructure:"sslmode"`
	Params   map[string]string `mapstructure:"params"`
}

// DumpConfig holds data-dump settings.
type DumpConfig struct {
	RemoveExisting bool `mapstructure:"remove_existing"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("MODMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.path = configPath

	if _, err := source.ParseCollisionPolicy(cfg.OnDuplicate); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Top-level defaults
	v.SetDefault("root_dir", "")
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("runtime_dir", "runtime")
	v.SetDefault("history_table", migrator.DefaultHistoryTable)
	v.SetDefault("transactional", false)
	v.SetDefault("on_duplicate", "error")
	v.SetDefault("interactive", true)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	// Dump defaults
	v.SetDefault("dump.remove_existing", true)

	// Doctor defaults
	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for modmigrate.yaml or modmigrate.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range ConfigFileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// Path returns the config file the configuration was read from.
func (c *Config) Path() string {
	return c.path
}

// Root returns the absolute application root.
func (c *Config) Root() (string, error) {
	root := c.RootDir
	if root == "" {
		if c.path != "" {
			root = filepath.Dir(c.path)
		} else {
			root = "."
		}
	} else if !filepath.IsAbs(root) && c.path != "" {
		root = filepath.Join(filepath.Dir(c.path), root)
	}
	return filepath.Abs(root)
}

// MigrationsPath returns the application migrations directory.
func (c *Config) MigrationsPath() (string, error) {
	return c.underRoot(c.MigrationsDir)
}

// RuntimePath returns the runtime scratch directory.
func (c *Config) RuntimePath() (string, error) {
	return c.underRoot(c.RuntimeDir)
}

func (c *Config) underRoot(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	root, err := c.Root()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, p), nil
}

// CollisionPolicy returns the parsed on_duplicate setting.
func (c *Config) CollisionPolicy() source.CollisionPolicy {
	p, _ := source.ParseCollisionPolicy(c.OnDuplicate)
	return p
}

// ModuleAliases builds the alias table rooted at the application root.
func (c *Config) ModuleAliases() (*modules.Aliases, error) {
	root, err := c.Root()
	if err != nil {
		return nil, err
	}
	a := modules.NewAliases(root)
	for alias, target := range c.Aliases {
		if !strings.HasPrefix(alias, "@") {
			alias = "@" + alias
		}
		a.Set(alias, target)
	}
	return a, nil
}

// ModuleRegistry reads the ordered modules mapping of the config file. No
// config file yields an empty registry.
func (c *Config) ModuleRegistry(fs afero.Fs) (*modules.Registry, error) {
	if c.path == "" {
		return modules.NewRegistry(), nil
	}
	return modules.LoadRegistryFile(fs, c.path)
}

// DSN returns the database connection string for the configured driver.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	switch strings.ToLower(db.Driver) {
	case "sqlite", "sqlite3":
		return c.sqliteDSN()
	case "mysql", "mariadb":
		return c.mysqlDSN()
	case "postgres", "postgresql", "pgx", "":
		return c.postgresDSN()
	default:
		return "", fmt.Errorf("unsupported database.driver %q", db.Driver)
	}
}

func (c *Config) requireFields() error {
	db := c.Database
	if db.Host == "" {
		return fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return fmt.Errorf("database.user is required when database.url is not set")
	}
	return nil
}

func (c *Config) postgresDSN() (string, error) {
	db := c.Database
	if err := c.requireFields(); err != nil {
		return "", err
	}
	port := db.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(port)),
		Path:   "/" + db.Name,
	}
	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	q := u.Query()
	if db.SSLMode != "" {
		q.Set("sslmode", db.SSLMode)
	}
	for k, v := range db.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Config) mysqlDSN() (string, error) {
	db := c.Database
	if err := c.requireFields(); err != nil {
		return "", err
	}
	port := db.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = db.User
	mc.Passwd = db.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(db.Host, strconv.Itoa(port))
	mc.DBName = db.Name
	mc.ParseTime = true
	if len(db.Params) > 0 {
		mc.Params = make(map[string]string, len(db.Params))
		for k, v := range db.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN(), nil
}

func (c *Config) sqliteDSN() (string, error) {
	db := c.Database
	if db.Name == "" {
		return "", fmt.Errorf("database.name (the database file) is required for sqlite")
	}
	path := db.Name
	if path != ":memory:" && !filepath.IsAbs(path) {
		p, err := c.underRoot(path)
		if err != nil {
			return "", err
		}
		path = p
	}
	if len(db.Params) == 0 {
		return path, nil
	}
	q := url.Values{}
	for k, v := range db.Params {
		q.Set(k, v)
	}
	return "file:" + path + "?" + q.Encode(), nil
}
