package tinygo

// advertisement is a snapshot of one BlueZ scan result.
type advertisement struct {
	addr        string
	name        string
	rssi        int
	manuf       []byte
	services    []string
	serviceData []struct {
		UUID string
		Data []byte
	}
}

func (a *advertisement) LocalName() string        { return a.name }
func (a *advertisement) ManufacturerData() []byte { return a.manuf }
func (a *advertisement) Services() []string       { return a.services }
func (a *advertisement) RSSI() int                { return a.rssi }
func (a *advertisement) Addr() string             { return a.addr }

// TxPowerLevel is not exposed by BlueZ scan results; 127 means unavailable.
func (a *advertisement) TxPowerLevel() int { return 127 }

// Connectable is not exposed by BlueZ scan results.
func (a *advertisement) Connectable() bool { return true }

func (a *advertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	return a.serviceData
}
