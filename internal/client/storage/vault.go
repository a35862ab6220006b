package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/carpool/internal/models"
)

// TokenKey is the single key under which the token record is stored.
const TokenKey = "authTokens"

// Tier identifies where a token record lives.
type Tier int

const (
	TierNone Tier = iota
	TierDurable
	TierVolatile
)

func (t Tier) String() string {
	switch t {
	case TierDurable:
		return "durable"
	case TierVolatile:
		return "volatile"
	default:
		return "none"
	}
}

// Vault stores the token pair in exactly one of two tiers. The tier is
// chosen when the pair is written; readers never need to know which one is
// active.
type Vault struct {
	durable  Store
	volatile Store
}

// NewVault returns a Vault over the durable and volatile stores.
func NewVault(durable, volatile Store) *Vault {
	return &Vault{durable: durable, volatile: volatile}
}

func (v *Vault) store(t Tier) Store {
	if t == TierDurable {
		return v.durable
	}
	return v.volatile
}

// Save writes pair to the durable tier when rememberMe is set and to the
// volatile tier otherwise, then removes any copy from the other tier.
func (v *Vault) Save(ctx context.Context, pair models.TokenPair, rememberMe bool) error {
	target, other := TierVolatile, TierDurable
	if rememberMe {
		target, other = TierDurable, TierVolatile
	}
	return v.write(ctx, pair, target, other)
}

func (v *Vault) write(ctx context.Context, pair models.TokenPair, target, other Tier) error {
	b, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	if err := v.store(target).Set(ctx, TokenKey, b); err != nil {
		return fmt.Errorf("write %s tier: %w", target, err)
	}
	if err := v.store(other).Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("clear %s tier: %w", other, err)
	}
	return nil
}

// Load returns the stored pair and the tier holding it. The durable tier is
// consulted first. ErrNotFound means neither tier holds a record.
func (v *Vault) Load(ctx context.Context) (models.TokenPair, Tier, error) {
	for _, t := range []Tier{TierDurable, TierVolatile} {
		b, err := v.store(t).Get(ctx, TokenKey)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return models.TokenPair{}, TierNone, fmt.Errorf("read %s tier: %w", t, err)
		}
		var pair models.TokenPair
		if err := json.Unmarshal(b, &pair); err != nil {
			return models.TokenPair{}, TierNone, fmt.Errorf("decode %s tier: %w", t, err)
		}
		return pair, t, nil
	}
	return models.TokenPair{}, TierNone, ErrNotFound
}

// Replace overwrites the record in the tier that currently holds it.
func (v *Vault) Replace(ctx context.Context, pair models.TokenPair) error {
	_, t, err := v.Load(ctx)
	if err != nil {
		return err
	}
	other := TierVolatile
	if t == TierVolatile {
		other = TierDurable
	}
	return v.write(ctx, pair, t, other)
}

// Clear removes the record from both tiers.
func (v *Vault) Clear(ctx context.Context) error {
	return errors.Join(
		v.durable.Delete(ctx, TokenKey),
		v.volatile.Delete(ctx, TokenKey),
	)
}

// Holding lists the tiers that currently hold a record. The shell reports
// it from whoami.
func (v *Vault) Holding(ctx context.Context) ([]Tier, error) {
	var out []Tier
	for _, t := range []Tier{TierDurable, TierVolatile} {
		_, err := v.store(t).Get(ctx, TokenKey)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
