package validation

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
)

func validAddress() model.ShippingAddress {
	return model.ShippingAddress{
		FullName: "Rahim Uddin",
		Phone:    "+880 1711-000000",
		Address:  "House 12, Road 5",
		City:     "Dhaka",
	}
}

func TestIsValidOrderNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{name: "valid", number: "LL261000001", valid: true},
		{name: "valid long sequence", number: "LL2610123456", valid: true},
		{name: "wrong prefix", number: "AB261000001", valid: false},
		{name: "bad month", number: "LL261300001", valid: false},
		{name: "contains letters", number: "LL26100000a", valid: false},
		{name: "empty string", number: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidOrderNumber(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidOrderNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+8801711000000", NormalizePhone(" +880 1711-000000 "))
	assert.Equal(t, "01711000000", NormalizePhone("(017) 11 000 000"))
	assert.Equal(t, "", NormalizePhone("   "))
}

func TestShippingAddress(t *testing.T) {
	a, err := ShippingAddress(validAddress(), "")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCountry, a.Country)

	a, err = ShippingAddress(validAddress(), "India")
	require.NoError(t, err)
	assert.Equal(t, "India", a.Country)

	in := validAddress()
	in.Country = "Nepal"
	a, err = ShippingAddress(in, "India")
	require.NoError(t, err)
	assert.Equal(t, "Nepal", a.Country)

	in = validAddress()
	in.City = "  "
	in.Phone = ""
	_, err = ShippingAddress(in, "")
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "phone, city")
}

func TestCheckout(t *testing.T) {
	base := model.Checkout{
		UserID:          1,
		Items:           []model.OrderItem{{ProductID: " p-1 ", Quantity: 2}},
		ShippingAddress: validAddress(),
	}

	tests := []struct {
		name    string
		mutate  func(c *model.Checkout)
		wantErr bool
	}{
		{name: "valid defaults to cod", mutate: func(c *model.Checkout) {}},
		{name: "empty items", mutate: func(c *model.Checkout) { c.Items = nil }, wantErr: true},
		{name: "missing product id", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{{Quantity: 1}}
		}, wantErr: true},
		{name: "zero quantity", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{{ProductID: "p-1"}}
		}, wantErr: true},
		{name: "quantity above limit", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{{ProductID: "p-1", Quantity: MaxQuantity + 1}}
		}, wantErr: true},
		{name: "duplicate lines overflow int", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{
				{ProductID: "p-1", Quantity: math.MaxInt},
				{ProductID: "p-1", Quantity: 2},
			}
		}, wantErr: true},
		{name: "duplicate lines above limit", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{
				{ProductID: "p-1", Quantity: MaxQuantity},
				{ProductID: " p-1", Quantity: 1},
			}
		}, wantErr: true},
		{name: "duplicate lines at limit", mutate: func(c *model.Checkout) {
			c.Items = []model.OrderItem{
				{ProductID: "p-1", Quantity: MaxQuantity - 1},
				{ProductID: "p-1", Quantity: 1},
			}
		}},
		{name: "missing address", mutate: func(c *model.Checkout) {
			c.ShippingAddress = model.ShippingAddress{}
		}, wantErr: true},
		{name: "unknown payment", mutate: func(c *model.Checkout) { c.PaymentMethod = "Bitcoin" }, wantErr: true},
		{name: "negative shipping", mutate: func(c *model.Checkout) {
			c.ShippingCost = decimal.NewFromInt(-1)
		}, wantErr: true},
		{name: "negative tax", mutate: func(c *model.Checkout) {
			c.Tax = decimal.RequireFromString("-0.01")
		}, wantErr: true},
		{name: "sub-cent shipping", mutate: func(c *model.Checkout) {
			c.ShippingCost = decimal.RequireFromString("60.005")
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Items = append([]model.OrderItem(nil), base.Items...)
			tt.mutate(&c)

			got, err := Checkout(c, "")
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.PaymentMethodCOD, got.PaymentMethod)
			assert.Equal(t, "p-1", got.Items[0].ProductID)
			assert.Equal(t, " p-1 ", base.Items[0].ProductID, "input must not be mutated")
		})
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{value: "0"},
		{value: "1000"},
		{value: "12.5"},
		{value: "12.50"},
		{value: "0.001", wantErr: true},
		{value: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := Money("price", decimal.RequireFromString(tt.value))
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
