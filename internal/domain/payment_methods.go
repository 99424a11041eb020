package domain

// PaymentMethod is the single source of truth for per-method settlement
// semantics: whether the leg needs an external reference, which drawer bucket
// it accrues to, and whether it is the tender leg that may overpay into change.
type PaymentMethod struct {
	Code              string
	RequiresReference bool
	Bucket            string
	Tender            bool
}

const (
	MethodCash         = "CASH"
	MethodAR           = "AR"
	MethodCreditCard   = "CREDIT_CARD"
	MethodGCash        = "GCASH"
	MethodBankTransfer = "BANK_TRANSFER"
	MethodQR           = "QR"
	MethodCheck        = "CHECK"
)

const (
	BucketCash     = "cash"
	BucketCard     = "card"
	BucketMobile   = "mobile"
	BucketCheck    = "check"
	BucketTransfer = "transfer"
	BucketAR       = "ar"
)

var paymentMethods = map[string]PaymentMethod{
	MethodCash:         {Code: MethodCash, RequiresReference: false, Bucket: BucketCash, Tender: true},
	MethodAR:           {Code: MethodAR, RequiresReference: false, Bucket: BucketAR},
	MethodCreditCard:   {Code: MethodCreditCard, RequiresReference: true, Bucket: BucketCard},
	MethodGCash:        {Code: MethodGCash, RequiresReference: true, Bucket: BucketMobile},
	MethodBankTransfer: {Code: MethodBankTransfer, RequiresReference: true, Bucket: BucketTransfer},
	MethodQR:           {Code: MethodQR, RequiresReference: true, Bucket: BucketMobile},
	MethodCheck:        {Code: MethodCheck, RequiresReference: true, Bucket: BucketCheck},
}

func MethodByCode(code string) (PaymentMethod, bool) {
	m, ok := paymentMethods[code]
	return m, ok
}

func IsSupportedPaymentMethod(code string) bool {
	_, ok := paymentMethods[code]
	return ok
}
