// Package fiscal validates Spanish tax identifiers (NIF/NIE/CIF) by their
// structural checksums.
package fiscal

import "strings"

// Status is the outcome of a structural tax-id validation
type Status string

const (
	StatusValid   Status = "valid"
	StatusMaybe   Status = "maybe"
	StatusInvalid Status = "invalid"
)

const nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"
const cifLetters = "JABCDEFGHI"

// Canonicalize uppercases a tax id and strips separators
func Canonicalize(nif string) string {
	code := strings.ToUpper(strings.TrimSpace(nif))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, ".", "")
	return code
}

// ValidateNIF checks a Spanish NIF/NIE/CIF against its checksum rules.
// Returns StatusValid when the control character matches, StatusMaybe for
// plausible but unverifiable ids, StatusInvalid otherwise.
func ValidateNIF(nif string) Status {
	code := Canonicalize(nif)
	if code == "" {
		return StatusInvalid
	}
	if strings.HasPrefix(code, "ES") && len(code) > 2 {
		if ValidateNIF(code[2:]) == StatusValid {
			return StatusValid
		}
		return StatusMaybe
	}
	// Intra-community identifiers are validated upstream, accept them here
	if strings.HasPrefix(code, "EU") && len(code) > 4 {
		return StatusValid
	}
	if len(code) < 8 || len(code) > 10 {
		return StatusInvalid
	}
	if isDigits(code) {
		return StatusInvalid
	}

	// DNI: 8 digits + control letter
	if len(code) == 9 && isDigits(code[:8]) && isAlpha(code[8]) {
		expected := nifLetters[mod23(code[:8])]
		if code[8] == expected {
			return StatusValid
		}
		return StatusMaybe
	}

	// NIE: X/Y/Z + 7 digits + control letter
	if len(code) == 9 && strings.ContainsRune("XYZ", rune(code[0])) && isDigits(code[1:8]) && isAlpha(code[8]) {
		prefix := map[byte]string{'X': "0", 'Y': "1", 'Z': "2"}[code[0]]
		expected := nifLetters[mod23(prefix+code[1:8])]
		if code[8] == expected {
			return StatusValid
		}
		return StatusMaybe
	}

	// CIF: organization letter + 7 digits + control digit or letter
	if len(code) == 9 && strings.ContainsRune("ABCDEFGHJNPQRSUVW", rune(code[0])) && isDigits(code[1:8]) {
		digits := code[1:8]
		evenSum := 0
		for i := 1; i < len(digits); i += 2 {
			evenSum += int(digits[i] - '0')
		}
		oddSum := 0
		for i := 0; i < len(digits); i += 2 {
			prod := int(digits[i]-'0') * 2
			oddSum += prod/10 + prod%10
		}
		control := (10 - (evenSum+oddSum)%10) % 10
		expectedDigit := byte('0' + control)
		expectedLetter := cifLetters[control]
		last := code[8]

		switch {
		case strings.ContainsRune("PQRSNW", rune(code[0])):
			if last == expectedLetter {
				return StatusValid
			}
		case strings.ContainsRune("ABEH", rune(code[0])):
			if last == expectedDigit {
				return StatusValid
			}
		default:
			if last == expectedDigit || last == expectedLetter {
				return StatusValid
			}
		}
		return StatusMaybe
	}

	if len(code) >= 8 {
		return StatusMaybe
	}
	return StatusInvalid
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func mod23(digits string) int {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = (n*10 + int(digits[i]-'0')) % 23
	}
	return n
}
