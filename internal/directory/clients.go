package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"gorm.io/gorm"
)

// NationalNumberDigits is how many trailing digits of a phone number are matched.
// Inbound addresses carry the country code (40721123456) while the back office stores
// national numbers (0721123456); both end in the same nine digits.
const NationalNumberDigits = 9

// phoneLookupKey reduces a phone number to the digits used for matching.
func phoneLookupKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > NationalNumberDigits {
		digits = digits[len(digits)-NationalNumberDigits:]
	}
	return digits
}

// Romanian tax ids (CUI) carry 2 to 10 digits after the optional RO prefix.
const (
	minTaxIDDigits = 2
	maxTaxIDDigits = 10
)

// taxIDDigits reduces a tax id as typed by a user ("ro 123 456") to its digits.
// It returns "" for anything that is not a well-formed tax id.
func taxIDDigits(vat string) string {
	vat = strings.ToUpper(strings.Join(strings.Fields(vat), ""))
	vat = strings.TrimPrefix(vat, "RO")
	if len(vat) < minTaxIDDigits || len(vat) > maxTaxIDDigits {
		return ""
	}
	for _, r := range vat {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return vat
}

// FindClientByPhone returns the first client whose phone contains the number.
func (d *Directory) FindClientByPhone(ctx context.Context, phone string) (*models.Client, error) {
	key := phoneLookupKey(phone)
	if key == "" {
		return nil, nil
	}
	var rec ClientRecord
	err := d.db.WithContext(ctx).Where("phone LIKE ?", "%"+key+"%").Order("id").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Debug("Directory.FindClientByPhone: no match", "phone", phone)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find client by phone: %w", err)
	}
	return rec.toModel(), nil
}

// findByVAT matches the whole tax id, stored with or without the RO prefix.
// Partial input never matches.
func (d *Directory) findByVAT(ctx context.Context, vat string) (*ClientRecord, error) {
	digits := taxIDDigits(vat)
	if digits == "" {
		return nil, nil
	}
	var rec ClientRecord
	err := d.db.WithContext(ctx).
		Where("UPPER(REPLACE(vat, ' ', '')) IN ?", []string{"RO" + digits, digits}).
		Order("id").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find client by vat: %w", err)
	}
	return &rec, nil
}

// FindClientByTaxID returns the client whose tax id equals vat, ignoring case,
// spaces and the RO prefix.
func (d *Directory) FindClientByTaxID(ctx context.Context, vat string) (*models.Client, error) {
	rec, err := d.findByVAT(ctx, vat)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// GetClientName returns the display name for a tax id, or "" when unknown.
func (d *Directory) GetClientName(ctx context.Context, vat string) (string, error) {
	rec, err := d.findByVAT(ctx, vat)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Name, nil
}

// UpdateClientPhone stores phone on the client matching vat.
func (d *Directory) UpdateClientPhone(ctx context.Context, phone, vat string) error {
	rec, err := d.findByVAT(ctx, vat)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("directory: no client with vat %q", vat)
	}
	if err := d.db.WithContext(ctx).Model(&ClientRecord{}).Where("id = ?", rec.ID).Update("phone", phone).Error; err != nil {
		return fmt.Errorf("directory: update phone: %w", err)
	}
	slog.Info("Directory.UpdateClientPhone: phone updated", "client_id", rec.ID, "phone", phone)
	return nil
}
