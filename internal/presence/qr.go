package presence

import qrcode "github.com/skip2/go-qrcode"

// RenderQR renders a pairing payload as terminal block art.
func RenderQR(payload string) (string, error) {
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
