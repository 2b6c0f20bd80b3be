package mailer

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var otpTemplate = template.Must(template.ParseFS(templateFS, "templates/otp.html"))

// OTPSubject is the subject line of verification emails.
const OTPSubject = "Confirm your email address"

const productName = "GO.Charity"

// OTPMessage builds the verification email carrying code.
func OTPMessage(from, to, code string, validFor time.Duration) (Message, error) {
	var body bytes.Buffer
	err := otpTemplate.Execute(&body, struct {
		Code     string
		ValidFor string
		Product  string
	}{Code: code, ValidFor: humanDuration(validFor), Product: productName})
	if err != nil {
		return Message{}, err
	}
	return Message{From: from, To: to, Subject: OTPSubject, HTMLBody: body.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return strconv.FormatInt(int64(d/time.Hour), 10) + " hours"
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return strconv.FormatInt(int64(d/time.Minute), 10) + " minutes"
	}
	return d.String()
}
