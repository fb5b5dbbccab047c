package columns

// Field is one of the canonical transaction attributes a source header can map to.
type Field string

const (
	FieldMerchant      Field = "merchant_name"
	FieldDescription   Field = "description"
	FieldAmount        Field = "amount"
	FieldDate          Field = "date"
	FieldMCC           Field = "mcc"
	FieldTransactionID Field = "transaction_id"
	FieldZipCode       Field = "zip_code"
)

// Fields is the assignment priority order. Earlier fields claim headers first.
var Fields = []Field{
	FieldMerchant,
	FieldDescription,
	FieldAmount,
	FieldDate,
	FieldMCC,
	FieldTransactionID,
	FieldZipCode,
}

// RequiredFields must be mapped with high confidence to skip confirmation.
var RequiredFields = []Field{FieldMerchant, FieldDate, FieldAmount}

// Keywords holds the synonyms each field is scored against.
// Entries are already in normalized form.
var Keywords = map[Field][]string{
	FieldMerchant: {
		"merchant", "merchantname", "vendor", "payee", "store",
		"business", "name", "seller", "retailer", "shop",
	},
	FieldDescription: {
		"description", "desc", "memo", "details", "note", "notes",
		"narrative", "transactiondescription", "particulars",
	},
	FieldAmount: {
		"amount", "total", "value", "price", "cost", "sum",
		"transactionamount", "payment", "charge", "debit", "credit",
	},
	FieldDate: {
		"date", "transactiondate", "posteddate", "postingdate",
		"transdate", "time", "timestamp", "datetime", "when",
	},
	FieldMCC: {
		"mcc", "merchantcategorycode", "categorycode", "category",
		"mcccode", "type",
	},
	FieldTransactionID: {
		"id", "transactionid", "txnid", "reference", "ref",
		"referencenumber", "confirmation",
	},
	FieldZipCode: {
		"zip", "zipcode", "postalcode", "postal", "postcode",
		"location", "zippostal",
	},
}

// ParseField resolves a canonical field name such as "merchant_name".
func ParseField(name string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}
