package models

import "fmt"

// Provider identifies one of the two external streaming catalogs.
type Provider string

const (
	ProviderSpotify Provider = "spotify"
	ProviderYouTube Provider = "youtube"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderSpotify, ProviderYouTube}
}

// ParseProvider validates a provider slug from config, CLI flags, or URLs.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderSpotify:
		return ProviderSpotify, nil
	case ProviderYouTube:
		return ProviderYouTube, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

func (p Provider) String() string { return string(p) }
