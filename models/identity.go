package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedilink/bridge/internal/crypto"
)

// Identity is a bridged domain. The domain is the key; the keypair signs
// federated requests made on the domain's behalf. Identities are created on
// first use and never deleted.
type Identity struct {
	Domain string `gorm:"primarykey;size:255"`

	// RSA keypair components, URL-safe base64.
	Mod             string `gorm:"type:text;not null"`
	PublicExponent  string `gorm:"type:text;not null"`
	PrivateExponent string `gorm:"type:text;not null"`

	// Results of the most recent verification pass.
	HasRedirects   bool
	RedirectsError string         `gorm:"type:text"`
	HasProfile     bool
	Actor          map[string]any `gorm:"serializer:json"`

	// UseInstead points at the canonical Identity when this domain is an
	// alias, eg a www. domain that collapses to its root.
	UseInstead string `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Homepage returns the identity's canonical homepage URL.
func (i *Identity) Homepage() string {
	return fmt.Sprintf("https://%s/", i.Domain)
}

// IsHomepage reports whether u points at this identity's home page.
func (i *Identity) IsHomepage(u string) bool {
	if u == "" {
		return false
	}
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == i.Domain {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "", "http", "https":
	default:
		return false
	}
	return parsed.Host == i.Domain && parsed.Path == "" &&
		parsed.RawQuery == "" && parsed.Fragment == ""
}

// Keypair returns the identity's keypair in component form.
func (i *Identity) Keypair() *crypto.Keypair {
	return &crypto.Keypair{
		Mod:             i.Mod,
		PublicExponent:  i.PublicExponent,
		PrivateExponent: i.PrivateExponent,
	}
}

// Identities provides access to Identity rows.
type Identities struct {
	db *gorm.DB
}

func NewIdentities(db *gorm.DB) *Identities {
	return &Identities{db: db}
}

// Find returns the Identity for domain, following UseInstead to the
// canonical row. Returns nil with no error when the domain is unknown.
func (i *Identities) Find(domain string) (*Identity, error) {
	var identity Identity
	err := i.db.Take(&identity, "domain = ?", domain).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return nil, nil
	case err != nil:
		return nil, err
	}
	if identity.UseInstead != "" && identity.UseInstead != domain {
		return i.Find(identity.UseInstead)
	}
	return &identity, nil
}

// FindAny returns the first Identity found among the candidate domains.
func (i *Identities) FindAny(domains ...string) (*Identity, error) {
	for _, domain := range domains {
		if domain == "" {
			continue
		}
		identity, err := i.Find(domain)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			return identity, nil
		}
	}
	return nil, nil
}

// GetOrCreate loads the Identity for domain, creating it with a fresh
// keypair if necessary. Creation relies on the store's single-key
// atomicity: a concurrent insert loses cleanly and reloads the winner.
func (i *Identities) GetOrCreate(domain string) (*Identity, error) {
	existing, err := i.Find(domain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		Domain:          domain,
		Mod:             kp.Mod,
		PublicExponent:  kp.PublicExponent,
		PrivateExponent: kp.PrivateExponent,
	}
	err = i.db.Clauses(clause.OnConflict{DoNothing: true}).Create(identity).Error
	if err != nil {
		return nil, err
	}
	return i.Find(domain)
}

// Save persists the identity.
func (i *Identities) Save(identity *Identity) error {
	return i.db.Save(identity).Error
}

// All returns every Identity, for the periodic re-verification pass.
func (i *Identities) All() ([]*Identity, error) {
	var identities []*Identity
	if err := i.db.Find(&identities).Error; err != nil {
		return nil, err
	}
	return identities, nil
}
