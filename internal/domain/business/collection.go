// Package business names the remote collections the agency works with.
package business

// Remote table names
const (
	CollectionCustomers        = "customers"
	CollectionSuppliers        = "suppliers"
	CollectionCategories       = "categories"
	CollectionSales            = "sales"
	CollectionPurchases        = "purchases"
	CollectionVouchers         = "vouchers"
	CollectionExpenses         = "expenses"
	CollectionExpenseTemplates = "expense_templates"
	CollectionWaste            = "waste"
	CollectionSettings         = "settings"
)

// AllCollections lists every table the remote store exposes
func AllCollections() []string {
	return []string{
		CollectionCustomers, CollectionSuppliers, CollectionCategories,
		CollectionSales, CollectionPurchases, CollectionVouchers,
		CollectionExpenses, CollectionExpenseTemplates, CollectionWaste,
		CollectionSettings,
	}
}

// BackupCollections lists the tables included in a backup package, in package order
func BackupCollections() []string {
	return []string{
		CollectionCustomers, CollectionSuppliers, CollectionCategories,
		CollectionSales, CollectionPurchases, CollectionVouchers,
		CollectionExpenses, CollectionWaste,
	}
}

// IsCollection reports whether name is a known table
func IsCollection(name string) bool {
	for _, c := range AllCollections() {
		if c == name {
			return true
		}
	}
	return false
}
