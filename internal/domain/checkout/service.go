package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/domain/creditpackage"
	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/pkg/metrics"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

// WalletReader exposes the purchase history that drives loyalty and
// retention pricing.
type WalletReader interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error)
}

// PackageCatalog resolves curated credit packages.
type PackageCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*creditpackage.Package, error)
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckout(ctx context.Context, req polar.CreateCheckoutRequest) (*polar.CreateCheckoutResponse, error)
}

type Config struct {
	BaseCentsPerCredit int64
	Currency           string
	SuccessURL         string
}

// Service prices credit purchases and opens provider checkouts. Pricing is
// computed server side; the client never supplies an amount in cents.
type Service struct {
	wallets  WalletReader
	packages PackageCatalog
	provider Provider
	cfg      Config
}

func NewService(wallets WalletReader, packages PackageCatalog, provider Provider, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{wallets: wallets, packages: packages, provider: provider, cfg: cfg}
}

// Quote prices a request without opening a checkout.
func (s *Service) Quote(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Quote, error) {
	w, err := s.wallets.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.UseRetention && w.RetentionCreditsUsed {
		log.Error().
			Str("user_id", userID.String()).
			Msg("retention discount requested but already consumed")
		return nil, ErrRetentionAlreadyUsed
	}

	var q Quote
	switch {
	case req.PackageID != "":
		pkgID, err := uuid.Parse(req.PackageID)
		if err != nil {
			return nil, ErrPackageNotFound
		}
		pkg, err := s.packages.GetByID(ctx, pkgID)
		if errors.Is(err, creditpackage.ErrPackageNotFound) {
			return nil, ErrPackageNotFound
		}
		if err != nil {
			return nil, err
		}
		q = PricePackage(pkg.Credits, pkg.PriceCents, w.PurchaseCount, req.UseRetention)
	case req.Credits > 0:
		if req.Credits < 10 {
			return nil, ErrInvalidCredits
		}
		q = PriceCustom(req.Credits, s.cfg.BaseCentsPerCredit, w.PurchaseCount, req.UseRetention)
	default:
		return nil, ErrInvalidCredits
	}

	if q.TotalCents <= 0 {
		return nil, ErrInvalidCredits
	}
	return &q, nil
}

// Create opens a provider checkout for the quoted price. Grant attribution
// travels in checkout metadata and comes back on the order.paid webhook.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Session, error) {
	q, err := s.Quote(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"user_id": userID.String(),
		"credits": strconv.FormatInt(q.Credits, 10),
	}
	if req.UseRetention {
		metadata["discount_id"] = wallet.DiscountRetention
	}
	if req.PackageID != "" {
		metadata["package_id"] = req.PackageID
	}

	resp, err := s.provider.CreateCheckout(ctx, polar.CreateCheckoutRequest{
		AmountCents: q.TotalCents,
		Currency:    s.cfg.Currency,
		SuccessURL:  s.cfg.SuccessURL,
		CustomerID:  userID.String(),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	metrics.CheckoutsCreated.Inc()
	log.Info().
		Str("user_id", userID.String()).
		Str("checkout_id", resp.ID).
		Int64("credits", q.Credits).
		Int64("total_cents", q.TotalCents).
		Msg("checkout created")

	return &Session{ID: resp.ID, URL: resp.URL, Quote: *q}, nil
}
