package emv

// EMV data object tags, upper-case hex as stored in a tlv.Map.
const (
	TagAID                      = "4F"
	TagApplicationLabel         = "50"
	TagPAN                      = "5A"
	TagCardholderName           = "5F20"
	TagExpiryDate               = "5F24"
	TagTransactionCurrency      = "5F2A"
	TagServiceCode              = "5F30"
	TagPANSequence              = "5F34"
	TagAIP                      = "82"
	TagDFName                   = "84"
	TagAFL                      = "94"
	TagTVR                      = "95"
	TagTransactionDate          = "9A"
	TagTSI                      = "9B"
	TagTransactionType          = "9C"
	TagAmountAuthorized         = "9F02"
	TagAmountOther              = "9F03"
	TagIAD                      = "9F10"
	TagApplicationPreferredName = "9F12"
	TagTerminalCountry          = "9F1A"
	TagTerminalID               = "9F1E"
	TagTransactionTime          = "9F21"
	TagApplicationCryptogram    = "9F26"
	TagCryptogramInfoData       = "9F27"
	TagCVMResults               = "9F34"
	TagATC                      = "9F36"
	TagUnpredictableNumber      = "9F37"
	TagPDOL                     = "9F38"
)
