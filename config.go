package storefront

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PartitionName identifies a cache partition.
type PartitionName string

const (
	PartitionCore    PartitionName = "core"
	PartitionProduct PartitionName = "product"
	PartitionAPI     PartitionName = "api"
	PartitionImage   PartitionName = "image"
)

// Sync trigger tags.
const (
	TagSyncCart   = "sync-cart"
	TagSyncOrders = "sync-orders"
)

const (
	DefaultOfflineDocument = "/offline.html"
	DefaultCartEndpoint    = "/api/cart"
	DefaultOrdersEndpoint  = "/api/orders"
	DefaultPromoURL        = "/products?featured=true"
	DefaultFlushInterval   = 30 * time.Second
	DefaultFetchTimeout    = 15 * time.Second
)

// Config is the fixed configuration of a worker instance. It is built once,
// validated, and copied into every component that reads it; nothing mutates
// it after construction.
type Config struct {
	// Origin is the base URL relative request URLs resolve against.
	Origin string

	// Partitions is the recognized partition set. Anything else is pruned
	// on activation.
	Partitions []PartitionName

	// ExcludedPrefixes bypass every partition unconditionally.
	ExcludedPrefixes []string

	// ShellAssets are fetched into core during install.
	ShellAssets []string

	OfflineDocument string
	CartEndpoint    string
	OrdersEndpoint  string

	// Notification defaults and click destinations.
	AppRoot           string
	PromoURL          string
	DefaultTitle      string
	DefaultBody       string
	NotificationIcon  string
	NotificationBadge string

	CartSyncedMessage string

	// FlushInterval is how often registered sync tags are retried while online.
	FlushInterval time.Duration
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		Origin:     "http://localhost:3000",
		Partitions: []PartitionName{PartitionCore, PartitionProduct, PartitionAPI, PartitionImage},
		ExcludedPrefixes: []string{
			"/admin",
			"/api/admin",
			"/api/auth",
			"/api/payments",
		},
		ShellAssets: []string{
			"/",
			"/index.html",
			DefaultOfflineDocument,
			"/manifest.json",
		},
		OfflineDocument:   DefaultOfflineDocument,
		CartEndpoint:      DefaultCartEndpoint,
		OrdersEndpoint:    DefaultOrdersEndpoint,
		AppRoot:           "/",
		PromoURL:          DefaultPromoURL,
		DefaultTitle:      "Mi Tienda",
		DefaultBody:       "Tienes una nueva notificación",
		NotificationIcon:  "/icons/icon-192x192.png",
		NotificationBadge: "/icons/badge-72x72.png",
		CartSyncedMessage: "Carrito sincronizado correctamente",
		FlushInterval:     DefaultFlushInterval,
	}
}

// Validate checks the configuration and fills zero values with defaults.
// It returns a detached copy.
func (c Config) Validate() (Config, error) {
	d := DefaultConfig()
	out := c.clone()

	if strings.TrimSpace(out.Origin) == "" {
		return Config{}, fmt.Errorf("origin is required")
	}
	u, err := url.Parse(out.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("origin %q must be an absolute URL", out.Origin)
	}
	out.Origin = strings.TrimRight(out.Origin, "/")

	if len(out.Partitions) == 0 {
		out.Partitions = d.Partitions
	}
	seen := make(map[PartitionName]bool, len(out.Partitions))
	for _, p := range out.Partitions {
		if strings.TrimSpace(string(p)) == "" {
			return Config{}, fmt.Errorf("partition name must not be empty")
		}
		if seen[p] {
			return Config{}, fmt.Errorf("duplicate partition %q", p)
		}
		seen[p] = true
	}
	for _, required := range d.Partitions {
		if !seen[required] {
			return Config{}, fmt.Errorf("partition %q is required", required)
		}
	}

	if out.ExcludedPrefixes == nil {
		out.ExcludedPrefixes = d.ExcludedPrefixes
	}
	for _, p := range out.ExcludedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return Config{}, fmt.Errorf("excluded prefix %q must start with /", p)
		}
	}

	setDefault(&out.OfflineDocument, d.OfflineDocument)
	setDefault(&out.CartEndpoint, d.CartEndpoint)
	setDefault(&out.OrdersEndpoint, d.OrdersEndpoint)
	setDefault(&out.AppRoot, d.AppRoot)
	setDefault(&out.PromoURL, d.PromoURL)
	setDefault(&out.DefaultTitle, d.DefaultTitle)
	setDefault(&out.DefaultBody, d.DefaultBody)
	setDefault(&out.NotificationIcon, d.NotificationIcon)
	setDefault(&out.NotificationBadge, d.NotificationBadge)
	setDefault(&out.CartSyncedMessage, d.CartSyncedMessage)
	if out.FlushInterval <= 0 {
		out.FlushInterval = d.FlushInterval
	}
	return out, nil
}

// Recognized reports whether name belongs to the recognized partition set.
func (c Config) Recognized(name PartitionName) bool {
	for _, p := range c.Partitions {
		if p == name {
			return true
		}
	}
	return false
}

// Resolve turns an origin-relative URL into an absolute one.
func (c Config) Resolve(ref string) string {
	if ref == "" {
		return c.Origin + "/"
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(c.Origin + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func (c Config) clone() Config {
	out := c
	out.Partitions = append([]PartitionName(nil), c.Partitions...)
	if c.ExcludedPrefixes != nil {
		out.ExcludedPrefixes = append([]string{}, c.ExcludedPrefixes...)
	}
	out.ShellAssets = append([]string(nil), c.ShellAssets...)
	return out
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
