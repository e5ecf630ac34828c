// Package money formats signed integer cents for API responses and email
// bodies. All amounts in the system are int64 cents; nothing here rounds.
package money

import "fmt"

// FormatCents renders cents as "D.CC" with a leading minus for debits.
// 123456 -> "1234.56", -700 -> "-7.00", 5 -> "0.05".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
