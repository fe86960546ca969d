// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration of the Arke authorities,
// the dead-drop store and the client.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel         = "NOTICE"
	defaultIdleTimeout      = 60 * 1000 // 60 sec.
	defaultRequestTimeout   = 15 * 1000 // 15 sec.
	defaultRatePerSecond    = 50
	defaultRateBurst        = 100
	defaultN                = 10
	defaultThreshold        = 3
	defaultDomain           = "registration"
	defaultReplayCapacity   = 1 << 20
	defaultReplayFPRate     = 0.001
	defaultMaxSubscribeWait = 30 * 1000 // 30 sec.
	defaultPollInterval     = 5 * 1000  // 5 sec.
	defaultRetryAttempts    = 5
	defaultRetryBaseDelay   = 250
	defaultRetryMaxDelay    = 10 * 1000
	defaultManagementSocket = "management_sock"
)

// Roles served by the arke server binaries.
const (
	RoleDealer    = "dealer"
	RoleRegistrar = "registrar"
	RoleIssuer    = "issuer"
	RoleDirectory = "directory"
	RoleStore     = "store"
)

// Dead-drop store backends.
const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the configuration shared by every server role.
type Server struct {
	// Identifier is the human readable identifier for the node.
	Identifier string

	// Addresses are the URLs (tcp://host:port) to listen on.
	Addresses []string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// MetricsAddress, when set, serves Prometheus metrics on host:port.
	MetricsAddress string

	// IdleTimeout is the time in milliseconds a connection may sit idle
	// between two requests.
	IdleTimeout int

	// RatePerSecond and RateBurst bound the requests per peer address.
	// A zero RatePerSecond disables the limit.
	RatePerSecond float64
	RateBurst     int
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}
	if len(sCfg.Addresses) == 0 {
		return errors.New("config: Server: Addresses is not set")
	}
	for _, v := range sCfg.Addresses {
		if err := EnsureURL(v); err != nil {
			return fmt.Errorf("config: Server: Address '%v' is invalid: %v", v, err)
		}
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	if sCfg.RatePerSecond < 0 || sCfg.RateBurst < 0 {
		return errors.New("config: Server: rate limit is negative")
	}
	return nil
}

func (sCfg *Server) applyDefaults() {
	if sCfg.IdleTimeout <= 0 {
		sCfg.IdleTimeout = defaultIdleTimeout
	}
	if sCfg.RateBurst == 0 && sCfg.RatePerSecond == 0 {
		sCfg.RatePerSecond = defaultRatePerSecond
		sCfg.RateBurst = defaultRateBurst
	}
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Management is the management socket configuration.
type Management struct {
	// Enable enables the management interface.
	Enable bool

	// Path specifies the path to the management interface socket.  If
	// left empty it will use `management_sock` under the DataDir.
	Path string
}

func (mCfg *Management) applyDefaults(dataDir string) {
	if mCfg.Path == "" {
		mCfg.Path = filepath.Join(dataDir, defaultManagementSocket)
	}
}

// Debug is the debug configuration.
type Debug struct {
	// GenerateOnly halts and cleans up after generating the key material.
	GenerateOnly bool
}

// Dealer configures the trusted setup role.
type Dealer struct {
	// N is the number of issuers and Threshold the polynomial degree.
	N         int
	Threshold int

	// Domain is the registration domain attestations are bound to.
	Domain string

	// ExposeSecrets enables the development actions that hand out
	// secret key material.
	ExposeSecrets bool
}

func (dCfg *Dealer) validate() error {
	if dCfg.N == 0 {
		dCfg.N = defaultN
	}
	if dCfg.Threshold == 0 {
		dCfg.Threshold = defaultThreshold
	}
	if dCfg.Domain == "" {
		dCfg.Domain = defaultDomain
	}
	if dCfg.Threshold < 1 || dCfg.Threshold >= dCfg.N {
		return fmt.Errorf("config: Dealer: Threshold %d is invalid for N %d", dCfg.Threshold, dCfg.N)
	}
	return nil
}

// Registrar configures the registration authority.
type Registrar struct {
	// Domain is the registration domain.
	Domain string

	// Dealer, when set, is the dealer address the registrar key is
	// fetched from on first start.
	Dealer string
}

func (rCfg *Registrar) validate() error {
	if rCfg.Domain == "" {
		rCfg.Domain = defaultDomain
	}
	if rCfg.Dealer != "" {
		if err := EnsureURL(rCfg.Dealer); err != nil {
			return fmt.Errorf("config: Registrar: Dealer '%v' is invalid: %v", rCfg.Dealer, err)
		}
	}
	return nil
}

// Issuer configures one key issuing authority.
type Issuer struct {
	// Index is this issuer's share index, starting at 1.
	Index uint32

	// Domain is the registration domain.
	Domain string

	// Dealer is the dealer address the share is fetched from on first
	// start.
	Dealer string

	// Registrar is the registrar address its public key is fetched from
	// when no key file exists.
	Registrar string
}

func (iCfg *Issuer) validate() error {
	if iCfg.Index == 0 {
		return errors.New("config: Issuer: Index is not set")
	}
	if iCfg.Domain == "" {
		iCfg.Domain = defaultDomain
	}
	for _, v := range []string{iCfg.Dealer, iCfg.Registrar} {
		if v == "" {
			continue
		}
		if err := EnsureURL(v); err != nil {
			return fmt.Errorf("config: Issuer: address '%v' is invalid: %v", v, err)
		}
	}
	return nil
}

// Directory configures the user directory.
type Directory struct {
	// DBFile is the bbolt file under DataDir.
	DBFile string
}

func (dCfg *Directory) applyDefaults() {
	if dCfg.DBFile == "" {
		dCfg.DBFile = "directory.db"
	}
}

// Store configures the dead-drop store.
type Store struct {
	// Backend is BackendBolt or BackendMemory.
	Backend string

	// DBFile is the bbolt file under DataDir.
	DBFile string

	// ReplayCapacity and ReplayFalsePositiveRate size the nonce filter.
	ReplayCapacity          int
	ReplayFalsePositiveRate float64

	// MaxSubscribeWait caps a subscription long poll, in milliseconds.
	MaxSubscribeWait int
}

func (sCfg *Store) validate() error {
	switch sCfg.Backend {
	case "":
		sCfg.Backend = BackendBolt
	case BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: Store: Backend '%v' is invalid", sCfg.Backend)
	}
	if sCfg.DBFile == "" {
		sCfg.DBFile = "store.db"
	}
	if sCfg.ReplayCapacity <= 0 {
		sCfg.ReplayCapacity = defaultReplayCapacity
	}
	if sCfg.ReplayFalsePositiveRate <= 0 {
		sCfg.ReplayFalsePositiveRate = defaultReplayFPRate
	}
	if sCfg.ReplayFalsePositiveRate >= 1 {
		return errors.New("config: Store: ReplayFalsePositiveRate must be below 1")
	}
	if sCfg.MaxSubscribeWait <= 0 {
		sCfg.MaxSubscribeWait = defaultMaxSubscribeWait
	}
	return nil
}

// Retry is the client retry policy for transport failures.
type Retry struct {
	MaxAttempts int

	// BaseDelay and MaxDelay are in milliseconds.
	BaseDelay int
	MaxDelay  int
}

func (rCfg *Retry) applyDefaults() {
	if rCfg.MaxAttempts <= 0 {
		rCfg.MaxAttempts = defaultRetryAttempts
	}
	if rCfg.BaseDelay <= 0 {
		rCfg.BaseDelay = defaultRetryBaseDelay
	}
	if rCfg.MaxDelay <= 0 {
		rCfg.MaxDelay = defaultRetryMaxDelay
	}
}

// Client configures the arke client.
type Client struct {
	// DataDir holds the credential and contact book files.
	DataDir string

	// Domain is the registration domain.
	Domain string

	// Authority and store addresses.
	Registrar string
	Directory string
	Store     string
	Dealer    string
	Issuers   []string

	// RequestTimeout bounds one RPC, in milliseconds.
	RequestTimeout int

	// PollInterval is the unread flag polling period, in milliseconds.
	PollInterval int

	Retry *Retry
}

func (cCfg *Client) validate() error {
	if !filepath.IsAbs(cCfg.DataDir) {
		return fmt.Errorf("config: Client: DataDir '%v' is not an absolute path", cCfg.DataDir)
	}
	if cCfg.Domain == "" {
		cCfg.Domain = defaultDomain
	}
	for _, v := range []string{cCfg.Registrar, cCfg.Directory, cCfg.Store} {
		if err := EnsureURL(v); err != nil {
			return fmt.Errorf("config: Client: address '%v' is invalid: %v", v, err)
		}
	}
	if cCfg.Dealer != "" {
		if err := EnsureURL(cCfg.Dealer); err != nil {
			return fmt.Errorf("config: Client: Dealer '%v' is invalid: %v", cCfg.Dealer, err)
		}
	}
	if len(cCfg.Issuers) == 0 {
		return errors.New("config: Client: Issuers is not set")
	}
	for _, v := range cCfg.Issuers {
		if err := EnsureURL(v); err != nil {
			return fmt.Errorf("config: Client: Issuer '%v' is invalid: %v", v, err)
		}
	}
	if cCfg.RequestTimeout <= 0 {
		cCfg.RequestTimeout = defaultRequestTimeout
	}
	if cCfg.PollInterval <= 0 {
		cCfg.PollInterval = defaultPollInterval
	}
	if cCfg.Retry == nil {
		cCfg.Retry = &Retry{}
	}
	cCfg.Retry.applyDefaults()
	return nil
}

// Config is the top level configuration.  A server configuration has a
// Server section and exactly one role section, a client configuration
// has only a Client section.
type Config struct {
	Server     *Server
	Logging    *Logging
	Management *Management
	Debug      *Debug

	Dealer    *Dealer
	Registrar *Registrar
	Issuer    *Issuer
	Directory *Directory
	Store     *Store

	Client *Client
}

// Role returns the server role this configuration is for, or "" for a
// client configuration.
func (cfg *Config) Role() string {
	switch {
	case cfg.Dealer != nil:
		return RoleDealer
	case cfg.Registrar != nil:
		return RoleRegistrar
	case cfg.Issuer != nil:
		return RoleIssuer
	case cfg.Directory != nil:
		return RoleDirectory
	case cfg.Store != nil:
		return RoleStore
	}
	return ""
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	roles := 0
	for _, present := range []bool{cfg.Dealer != nil, cfg.Registrar != nil, cfg.Issuer != nil, cfg.Directory != nil, cfg.Store != nil} {
		if present {
			roles++
		}
	}

	if cfg.Client != nil {
		if cfg.Server != nil || roles != 0 {
			return errors.New("config: Client may not be combined with server sections")
		}
		return cfg.Client.validate()
	}

	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if roles != 1 {
		return fmt.Errorf("config: expected exactly one role section, got %d", roles)
	}
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	cfg.Server.applyDefaults()
	if cfg.Management == nil {
		cfg.Management = &Management{}
	}
	cfg.Management.applyDefaults(cfg.Server.DataDir)

	switch {
	case cfg.Dealer != nil:
		return cfg.Dealer.validate()
	case cfg.Registrar != nil:
		return cfg.Registrar.validate()
	case cfg.Issuer != nil:
		return cfg.Issuer.validate()
	case cfg.Directory != nil:
		cfg.Directory.applyDefaults()
	case cfg.Store != nil:
		return cfg.Store.validate()
	}
	return nil
}

// EnsureURL checks that addr is a tcp://host:port URL.
func EnsureURL(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return err
	}
	if u.Scheme != "tcp" {
		return fmt.Errorf("unsupported scheme '%v'", u.Scheme)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return err
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, forceGenOnly bool) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: No configuration provided")
	}
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	if forceGenOnly {
		cfg.Debug.GenerateOnly = true
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string, forceGenOnly bool) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, forceGenOnly)
}
