package redis

import (
	"testing"
	"time"

	"rideledger/internal/domain"
)

func TestDecodeRide_RejectsCorruptDocs(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"short key", `{"key":"ab","rider":"` + zeroHex + `"}`},
		{"bad rider", `{"key":"` + zeroHex + `","rider":"zz"}`},
		{"bad driver", `{"key":"` + zeroHex + `","rider":"` + zeroHex + `","driver":"01","status":"ACCEPTED"}`},
		{"unknown status", `{"key":"` + zeroHex + `","rider":"` + zeroHex + `","status":"LOST"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeRide([]byte(tc.data)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestEncodeRide_OmitsUnboundDriver(t *testing.T) {
	ride := &domain.Ride{Status: domain.RideStatusRequested, CreatedAt: time.Unix(0, 0).UTC()}
	ride.Key[0] = 1
	ride.Rider[0] = 2

	data, err := encodeRide(ride)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := decodeRide(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.HasDriver() {
		t.Error("expected no driver after decode")
	}
	if got.Key != ride.Key || got.Rider != ride.Rider {
		t.Error("identity fields lost")
	}
}

const zeroHex = "0000000000000000000000000000000000000000000000000000000000000000"
