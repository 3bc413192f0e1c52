package channels

import (
	"fmt"
	"strings"

	"rsc.io/qr"
)

// qrQuietZone is the blank border, in modules, scanners need around the code.
const qrQuietZone = 4

// generateQRSVG renders QR data as a standalone SVG, black modules on white,
// sized to size x size pixels.
func generateQRSVG(data string, size int) (string, error) {
	code, err := qr.Encode(data, qr.L)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR: %w", err)
	}

	n := code.Size
	if n == 0 {
		return "", fmt.Errorf("empty QR code")
	}
	total := n + 2*qrQuietZone

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d" shape-rendering="crispEdges">`,
		total, total, size, size)
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="#fff"/>`, total, total)

	// One path with a unit square per dark module keeps the document small.
	sb.WriteString(`<path fill="#000" d="`)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if code.Black(x, y) {
				fmt.Fprintf(&sb, "M%d %dh1v1h-1z", x+qrQuietZone, y+qrQuietZone)
			}
		}
	}
	sb.WriteString(`"/></svg>`)
	return sb.String(), nil
}
