package docsync

import "testing"

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		in   string
		want otlpTarget
	}{
		{in: "collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{in: "collector:55680", want: otlpTarget{protocol: "grpc", endpoint: "collector:55680", insecure: true}},
		{in: "grpcs://collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317"}},
		{in: "http://collector/v1/traces", want: otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces", insecure: true}},
		{in: "https://collector:443", want: otlpTarget{protocol: "http", endpoint: "collector:443"}},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.in)
		if err != nil {
			t.Fatalf("resolveOTLPTarget(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("resolveOTLPTarget(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "ftp://collector", "http://"} {
		if _, err := resolveOTLPTarget(bad); err == nil {
			t.Fatalf("resolveOTLPTarget(%q) succeeded", bad)
		}
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := setupTelemetry(t.Context(), Config{}, nil)
	if err != nil || tel != nil {
		t.Fatalf("setupTelemetry = %v, %v; want nil, nil", tel, err)
	}
	if tel.tracingEnabled() || tel.metricsAddr() != nil || tel.Shutdown(t.Context()) != nil {
		t.Fatalf("nil telemetry should be inert")
	}
}
