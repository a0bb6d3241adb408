package collector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds
const (
	KindHTML    = "html"
	KindBrowser = "browser"
)

// Source describes one news site: where its article links are listed and
// how to pull title, body and date out of an article page.
type Source struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	ListingURLs   []string      `yaml:"listing_urls"`
	LinkSelector  string        `yaml:"link_selector"`
	LinkPattern   string        `yaml:"link_pattern"`
	TitleSelector string        `yaml:"title_selector"`
	BodySelector  string        `yaml:"body_selector"`
	DateSelector  string        `yaml:"date_selector"`
	DateAttr      string        `yaml:"date_attr"`
	WaitSelector  string        `yaml:"wait_selector"`
	MaxItems      int           `yaml:"max_items"`
	Delay         time.Duration `yaml:"delay"`
	IgnoreRobots  bool          `yaml:"ignore_robots"`
}

// Catalog is the YAML document listing every source.
type Catalog struct {
	Sources []Source `yaml:"sources"`
}

// LoadCatalog reads a source catalog from path.
func LoadCatalog(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open sources %s: %w", path, err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes a catalog, rejecting unknown fields.
func ParseCatalog(r io.Reader) (Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("read sources: %w", err)
	}

	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode sources: %w", err)
	}

	seen := map[string]bool{}
	for i := range cat.Sources {
		src := &cat.Sources[i]
		if src.Kind == "" {
			src.Kind = KindHTML
		}
		if src.MaxItems <= 0 {
			src.MaxItems = 15
		}
		if err := src.validate(); err != nil {
			return Catalog{}, err
		}
		if seen[src.Name] {
			return Catalog{}, fmt.Errorf("source %s is defined twice", src.Name)
		}
		seen[src.Name] = true
	}
	return cat, nil
}

func (s Source) validate() error {
	if s.Name == "" {
		return errors.New("source name is required")
	}
	if s.Kind != KindHTML && s.Kind != KindBrowser {
		return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
	if len(s.ListingURLs) == 0 {
		return fmt.Errorf("source %s: listing_urls is required", s.Name)
	}
	if s.LinkSelector == "" {
		return fmt.Errorf("source %s: link_selector is required", s.Name)
	}
	if s.LinkPattern != "" {
		if _, err := regexp.Compile(s.LinkPattern); err != nil {
			return fmt.Errorf("source %s: link_pattern: %w", s.Name, err)
		}
	}
	return nil
}

// BuildOptions carries shared dependencies for collectors built from a catalog.
type BuildOptions struct {
	HTTPClient *http.Client
	UserAgent  string
	Headless   bool
	Logger     *slog.Logger
}

// BuildRegistry creates one collector per catalog source.
func BuildRegistry(cat Catalog, opts BuildOptions) (*Registry, error) {
	httpFetcher := NewHTTPFetcher(opts.HTTPClient, opts.UserAgent)
	robots := NewRobotsPolicy(opts.HTTPClient, opts.UserAgent)

	reg := NewRegistry()
	for _, src := range cat.Sources {
		var fetcher Fetcher = httpFetcher
		if src.Kind == KindBrowser {
			fetcher = NewBrowserFetcher(opts.Headless, opts.UserAgent, src.WaitSelector)
		}
		var policy *RobotsPolicy
		if !src.IgnoreRobots {
			policy = robots
		}
		c, err := NewSiteCollector(src, fetcher, policy, opts.Logger)
		if err != nil {
			return nil, err
		}
		reg.Register(c)
	}
	return reg, nil
}
