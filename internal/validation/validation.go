// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/ordernumber"
)

// IsValidOrderNumber проверяет, что строка имеет вид LL<YY><MM><seq>.
func IsValidOrderNumber(number string) bool {
	_, _, err := ordernumber.Parse(number)
	return err == nil
}

// NormalizePhone убирает из номера телефона пробелы, дефисы и скобки.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, ch := range strings.TrimSpace(phone) {
		switch {
		case unicode.IsDigit(ch):
			b.WriteRune(ch)
		case ch == '+' && i == 0:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// ShippingAddress проверяет обязательные поля адреса и возвращает
// нормализованную копию. Пустая страна заменяется на defaultCountry.
func ShippingAddress(a model.ShippingAddress, defaultCountry string) (model.ShippingAddress, error) {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Address = strings.TrimSpace(a.Address)
	a.City = strings.TrimSpace(a.City)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)

	var missing []string
	if a.FullName == "" {
		missing = append(missing, "fullName")
	}
	if a.Phone == "" {
		missing = append(missing, "phone")
	}
	if a.Address == "" {
		missing = append(missing, "address")
	}
	if a.City == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return a, model.Validationf("shipping address is missing %s", strings.Join(missing, ", "))
	}

	if a.Country == "" {
		a.Country = defaultCountry
	}
	if a.Country == "" {
		a.Country = model.DefaultCountry
	}
	return a, nil
}

// MaxQuantity ограничивает суммарное количество одного товара в заказе.
const MaxQuantity = 10000

// Checkout проверяет корзину до обращения к каталогу и складу. Возвращает
// копию с нормализованным адресом и способом оплаты по умолчанию.
func Checkout(c model.Checkout, defaultCountry string) (model.Checkout, error) {
	if len(c.Items) == 0 {
		return c, model.Validationf("order must contain at least one item")
	}

	items := make([]model.OrderItem, len(c.Items))
	totals := make(map[string]int, len(c.Items))
	for i, it := range c.Items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		if it.ProductID == "" {
			return c, model.Validationf("item %d: productId is required", i+1)
		}
		if it.Quantity < 1 {
			return c, model.Validationf("item %d: quantity must be at least 1", i+1)
		}
		// Сравнение через вычитание не переполняется при любых положительных количествах.
		if it.Quantity > MaxQuantity-totals[it.ProductID] {
			return c, model.Validationf("total quantity for product %s exceeds %d", it.ProductID, MaxQuantity)
		}
		totals[it.ProductID] += it.Quantity
		items[i] = it
	}
	c.Items = items

	addr, err := ShippingAddress(c.ShippingAddress, defaultCountry)
	if err != nil {
		return c, err
	}
	c.ShippingAddress = addr

	if c.PaymentMethod == "" {
		c.PaymentMethod = model.PaymentMethodCOD
	}
	if !c.PaymentMethod.Valid() {
		return c, model.Validationf("unknown payment method %q", c.PaymentMethod)
	}

	if err := Money("shippingCost", c.ShippingCost); err != nil {
		return c, err
	}
	if err := Money("tax", c.Tax); err != nil {
		return c, err
	}

	c.Notes = strings.TrimSpace(c.Notes)
	return c, nil
}

// Money проверяет, что денежная сумма неотрицательна и содержит не больше двух знаков после запятой.
func Money(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return model.Validationf("%s must not be negative", field)
	}
	if !d.Equal(d.Round(2)) {
		return model.Validationf("%s must have at most 2 decimal places", field)
	}
	return nil
}
