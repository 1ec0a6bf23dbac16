package wscodec

// ValidCloseCode implements the close-code acceptance rule of spec §4.2:
// reject 0-999, 1004, 1005, 1006, 1015, and the 1016-2999 reserved range;
// accept the remaining defined codes (1000-1003, 1007-1014) and the
// registered/private-use ranges 3000-4999.
func ValidCloseCode(code int) bool {
	switch {
	case code < 1000:
		return false
	case code == 1004, code == 1005, code == 1006, code == 1015:
		return false
	case code >= 1016 && code <= 2999:
		return false
	case code > 4999:
		return false
	default:
		return true
	}
}
