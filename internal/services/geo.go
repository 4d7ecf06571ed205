package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cleartitle/internal/config"

	"github.com/mssola/user_agent"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

const (
	UnknownLocation = "Unknown"

	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// Resolution is what the resolver could learn about a caller. Lookups are
// best effort: missing data falls back to Unknown and desktop.
type Resolution struct {
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
}

type geoReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Metadata() maxminddb.Metadata
	Close() error
}

// GeoResolver maps an IP and user agent to location and device fields using
// a MaxMind City database that is refreshed in the background.
type GeoResolver struct {
	cfg    config.Config
	logger *slog.Logger
	mu     sync.RWMutex
	reader geoReader
}

func NewGeoResolver(cfg config.Config, logger *slog.Logger) *GeoResolver {
	return &GeoResolver{cfg: cfg, logger: logger}
}

func (g *GeoResolver) credentialsSet() bool {
	return g.cfg.MaxMindAccountID != "" && g.cfg.MaxMindLicenseKey != ""
}

// Init opens the database, downloading it first when credentials are set and
// no copy exists yet. Without a database every lookup resolves to Unknown.
func (g *GeoResolver) Init() {
	path := g.cfg.MaxMindDBPath
	if path == "" {
		g.logger.Warn("GeoIP: no database path configured, lookups disabled")
		return
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !g.credentialsSet() {
			g.logger.Warn("GeoIP: database missing and MaxMind credentials not set, lookups disabled")
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			g.logger.Error("GeoIP: failed to create directory", "path", path, "error", err)
			return
		}
		g.logger.Info("GeoIP: database missing, downloading")
		if err := g.download(); err != nil {
			g.logger.Error("GeoIP: initial download failed", "error", err)
			return
		}
	}

	g.load(path)
}

// StartUpdater refreshes the database on every tick until ctx is done.
func (g *GeoResolver) StartUpdater(ctx context.Context, interval time.Duration) {
	if !g.credentialsSet() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.download(); err != nil {
				g.logger.Error("GeoIP: scheduled update failed", "error", err)
				continue
			}
			g.load(g.cfg.MaxMindDBPath)
		case <-ctx.Done():
			g.logger.Info("GeoIP: updater stopping")
			return
		}
	}
}

func (g *GeoResolver) download() error {
	dir := filepath.Dir(g.cfg.MaxMindDBPath)
	confPath := filepath.Join(dir, "GeoIP.conf")
	conf := fmt.Sprintf("AccountID %s\nLicenseKey %s\nEditionIDs %s\nDatabaseDirectory %s\n",
		g.cfg.MaxMindAccountID, g.cfg.MaxMindLicenseKey, g.cfg.MaxMindEditionIDs, dir)

	if err := os.WriteFile(confPath, []byte(conf), 0o600); err != nil {
		return fmt.Errorf("write GeoIP.conf: %w", err)
	}
	defer os.Remove(confPath)

	out, err := exec.Command("geoipupdate", "-f", confPath, "-d", dir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("geoipupdate failed: %w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *GeoResolver) load(path string) {
	reader, err := geoip2.Open(path)
	if err != nil {
		g.logger.Error("GeoIP: failed to open database", "path", path, "error", err)
		return
	}
	g.swap(reader)
	g.logger.Info("GeoIP: database loaded", "build_epoch", reader.Metadata().BuildEpoch)
}

func (g *GeoResolver) swap(reader geoReader) {
	g.mu.Lock()
	old := g.reader
	g.reader = reader
	g.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (g *GeoResolver) Close() {
	g.swap(nil)
}

// Resolve never fails; whatever cannot be determined keeps its default.
func (g *GeoResolver) Resolve(ip, userAgent string) Resolution {
	res := Resolution{Country: UnknownLocation, City: UnknownLocation, DeviceType: DeviceDesktop}
	res.Country, res.Region, res.City = g.location(ip)
	res.DeviceType, res.Browser, res.OS = parseDevice(userAgent)
	return res
}

func (g *GeoResolver) location(ipStr string) (country, region, city string) {
	country, city = UnknownLocation, UnknownLocation

	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() {
		return
	}

	g.mu.RLock()
	reader := g.reader
	g.mu.RUnlock()
	if reader == nil {
		return
	}

	record, err := reader.City(ip)
	if err != nil {
		g.logger.Debug("GeoIP: lookup failed", "error", err)
		return
	}

	if name := record.Country.Names["en"]; name != "" {
		country = name
	} else if record.Country.IsoCode != "" {
		country = record.Country.IsoCode
	}
	if len(record.Subdivisions) > 0 {
		region = record.Subdivisions[0].Names["en"]
	}
	if name := record.City.Names["en"]; name != "" {
		city = name
	}
	return
}

func parseDevice(userAgent string) (device, browser, osName string) {
	device = DeviceDesktop
	if strings.TrimSpace(userAgent) == "" {
		return
	}

	ua := user_agent.New(userAgent)
	name, version := ua.Browser()
	browser = strings.TrimSpace(name + " " + version)
	osName = ua.OS()

	switch {
	case ua.Bot():
		device = DeviceBot
	case isTablet(userAgent):
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	}
	return
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}

// maskIP drops the host part of an address before it is stored.
func maskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
