package stmpe811

// Registers.
const (
	regChipID      = 0x00 // 16 bit
	regIDVer       = 0x02
	regSysCtrl1    = 0x03
	regSysCtrl2    = 0x04
	regIntCtrl     = 0x09
	regIntEn       = 0x0a
	regIntSta      = 0x0b
	regGPIOAF      = 0x17
	regADCCtrl1    = 0x20
	regADCCtrl2    = 0x21
	regTSCCtrl     = 0x40
	regTSCCfg      = 0x41
	regFIFOTh      = 0x4a
	regFIFOSta     = 0x4b
	regFIFOSize    = 0x4c
	regTSCDataX    = 0x4d // 16 bit
	regTSCDataY    = 0x4f // 16 bit
	regTSCDataZ    = 0x51
	regTSCFractXYZ = 0x56
	regTSCIDrive   = 0x58
)

const (
	chipID = 0x0811

	sysCtrl1SoftReset = 0x02
	// Temperature sensor and GPIO clocks off, touch and ADC clocks on.
	sysCtrl2Clocks = 0x0c

	intCtrlGlobal = 0x01
	intTouchDet   = 0x01
	intFIFOTh     = 0x02
	intAll        = 0xff

	// 80 clock ticks conversion time, 12 bit ADC, internal reference.
	adcCtrl1Config = 0x48
	// 3.25 MHz ADC clock.
	adcCtrl2Config = 0x01

	tscCtrlEnable = 0x01 // X, Y and Z acquisition
	tscCtrlSta    = 0x80 // touch detected
	// 4 sample averaging, 500us detect delay, 500us settling time.
	tscCfgConfig = 0x9a

	fifoStaReset = 0x01
	fifoStaEmpty = 0x20
	fifoStaFull  = 0x40

	// Z in 8 bit integer format.
	fractXYZConfig = 0x07
	// 50mA panel drive current.
	iDriveConfig = 0x01
)
