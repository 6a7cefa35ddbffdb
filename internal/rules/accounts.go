package rules

// Spanish PGC default account maps per expense/revenue category.
// Vendor rules take precedence; these apply when only a category is known.
var purchaseCategoryAccounts = map[string]string{
	"suministros":     "628000",
	"alquiler":        "621000",
	"software":        "629000",
	"it_support":      "629000",
	"hosteleria":      "629500",
	"intracomunitaria": "629000",
	"abono":           "700000",
	"marketing":       "627000",
	"telefonia":       "628100",
	"seguros":         "625000",
	"material_oficina": "602000",
	"mantenimiento":   "629300",
	"viajes":          "629200",
	"servicios_prof":  "623000",
	"formacion":       "649000",
}

var salesCategoryAccounts = map[string]string{
	"ventas_servicios": "705000",
	"ventas_productos": "700000",
	"ventas_intracom":  "705500",
	"ventas_abono":     "705000",
	"ventas_ticket":    "705200",
}

const (
	purchaseSuspenseAccount = "629000"
	salesSuspenseAccount    = "705000"
	purchaseDefaultAccount  = "600000"
	salesDefaultAccount     = "700000"
	purchaseVATAccount      = "472000"
	salesVATAccount         = "477000"
)
