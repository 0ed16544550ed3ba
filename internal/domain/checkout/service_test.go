package checkout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/agencyos/billing-api/internal/domain/checkout"
	"github.com/agencyos/billing-api/internal/domain/creditpackage"
	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/pkg/polar"
)

type fakeWallets struct {
	wallet wallet.Wallet
}

func (f *fakeWallets) GetWallet(_ context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	w := f.wallet
	w.UserID = userID
	return &w, nil
}

type fakeCatalog struct {
	pkg *creditpackage.Package
}

func (f *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*creditpackage.Package, error) {
	if f.pkg == nil || f.pkg.ID != id {
		return nil, creditpackage.ErrPackageNotFound
	}
	return f.pkg, nil
}

type fakeProvider struct {
	lastReq polar.CreateCheckoutRequest
	fail    bool
}

func (f *fakeProvider) CreateCheckout(_ context.Context, req polar.CreateCheckoutRequest) (*polar.CreateCheckoutResponse, error) {
	if f.fail {
		return nil, errors.New("provider down")
	}
	f.lastReq = req
	return &polar.CreateCheckoutResponse{ID: "co_1", URL: "https://pay.example/co_1"}, nil
}

func newService(w wallet.Wallet, pkg *creditpackage.Package, provider *fakeProvider) *checkout.Service {
	return checkout.NewService(
		&fakeWallets{wallet: w},
		&fakeCatalog{pkg: pkg},
		provider,
		checkout.Config{BaseCentsPerCredit: 10, SuccessURL: "https://app.example/billing/success"},
	)
}

func TestCreateCustomCheckout(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(wallet.Wallet{}, nil, provider)
	userID := uuid.New()

	session, err := svc.Create(context.Background(), userID, checkout.CreateRequest{Credits: 12000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Quote.TotalCents != 72000 {
		t.Fatalf("expected total 72000, got %d", session.Quote.TotalCents)
	}
	if provider.lastReq.AmountCents != 72000 {
		t.Fatalf("expected provider amount 72000, got %d", provider.lastReq.AmountCents)
	}
	if provider.lastReq.Metadata["user_id"] != userID.String() {
		t.Fatal("expected user id in checkout metadata")
	}
	if provider.lastReq.Metadata["credits"] != "12000" {
		t.Fatalf("expected credits in metadata, got %q", provider.lastReq.Metadata["credits"])
	}
	if session.URL == "" {
		t.Fatal("expected redirect url")
	}
}

func TestCreatePackageCheckout(t *testing.T) {
	pkg := &creditpackage.Package{ID: uuid.New(), Name: "Growth", Credits: 5000, PriceCents: 40000, IsActive: true}
	provider := &fakeProvider{}
	svc := newService(wallet.Wallet{PurchaseCount: 1}, pkg, provider)

	session, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{PackageID: pkg.ID.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 40000 with the 30% first-repeat loyalty discount.
	if session.Quote.TotalCents != 28000 {
		t.Fatalf("expected total 28000, got %d", session.Quote.TotalCents)
	}
	if provider.lastReq.Metadata["package_id"] != pkg.ID.String() {
		t.Fatal("expected package id in checkout metadata")
	}
}

func TestRetentionReuseFailsLoudly(t *testing.T) {
	svc := newService(wallet.Wallet{RetentionCreditsUsed: true}, nil, &fakeProvider{})

	_, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{Credits: 100, UseRetention: true})
	if !errors.Is(err, checkout.ErrRetentionAlreadyUsed) {
		t.Fatalf("expected ErrRetentionAlreadyUsed, got %v", err)
	}
}

func TestRetentionAppliedOnce(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(wallet.Wallet{}, nil, provider)

	session, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{Credits: 100, UseRetention: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 cents, 5% volume -> 950, 50% retention -> 475.
	if session.Quote.TotalCents != 475 {
		t.Fatalf("expected total 475, got %d", session.Quote.TotalCents)
	}
	if provider.lastReq.Metadata["discount_id"] != wallet.DiscountRetention {
		t.Fatal("expected retention discount id in metadata")
	}
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	svc := newService(wallet.Wallet{}, nil, &fakeProvider{})

	if _, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{}); !errors.Is(err, checkout.ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits for empty request, got %v", err)
	}
	if _, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{Credits: 5}); !errors.Is(err, checkout.ErrInvalidCredits) {
		t.Fatalf("expected ErrInvalidCredits below minimum, got %v", err)
	}
	if _, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{PackageID: uuid.New().String()}); !errors.Is(err, checkout.ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestCreateProviderFailure(t *testing.T) {
	svc := newService(wallet.Wallet{}, nil, &fakeProvider{fail: true})

	_, err := svc.Create(context.Background(), uuid.New(), checkout.CreateRequest{Credits: 100})
	if !errors.Is(err, checkout.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
