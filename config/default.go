package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/rocketbitz/fabric-errd/device"
)

const (
	DefaultAPIVersion     = "v1"
	DefaultMetricsAddress = ":9488"
)

var (
	DefaultInjectInterval = metav1.Duration{Duration: time.Second}
	DefaultReadTimeout    = metav1.Duration{Duration: 100 * time.Millisecond}

	// keep the fault history for a day
	DefaultHistoryRetention = metav1.Duration{Duration: 24 * time.Hour}
)

// Default returns a configuration with one consumer and a page group fault
// routed to it.
func Default() *Config {
	return &Config{
		APIVersion:       DefaultAPIVersion,
		Device:           device.DefaultName,
		LogLevel:         "info",
		MetricsAddress:   DefaultMetricsAddress,
		HistoryRetention: DefaultHistoryRetention,
		InjectInterval:   DefaultInjectInterval,
		ReadTimeout:      DefaultReadTimeout,
		Consumers: []Consumer{
			{Owner: 1000, PASID: 1},
		},
		Faults: []Fault{
			{Group: "FXR_AT_ERR_STS_1", Name: "pgr_rsp_err", PASID: 1, Client: "TXDMA", VirtAddr: 0x7f0000001000, Access: "rw-"},
			{Group: "TXOTR_PKT_ERR_STS_0", Name: "fp_fifo_sbe"},
		},
	}
}
