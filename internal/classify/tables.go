package classify

import "bluewatch/internal/model"

// Catalogued 16-bit GATT service identifiers mapped to device types. Keys are
// lowercase 4-hex-digit short UUIDs; full 128-bit UUIDs on the Bluetooth base
// are reduced to this form before lookup.
var serviceTypeTable = map[string]model.DeviceType{
	"180d": model.TypeWatch,    // heart rate
	"1816": model.TypeWatch,    // cycling speed and cadence
	"1814": model.TypeWatch,    // running speed and cadence
	"1826": model.TypeWatch,    // fitness machine
	"110a": model.TypeAudio,    // audio source (A2DP)
	"110b": model.TypeAudio,    // audio sink (A2DP)
	"111e": model.TypeAudio,    // handsfree
	"1108": model.TypeAudio,    // headset
	"1844": model.TypeSpeaker,  // volume control
	"1203": model.TypeAudio,    // generic audio
	"1812": model.TypeComputer, // HID over GATT
	"1124": model.TypeComputer, // HID (classic)
	"1105": model.TypePhone,    // OBEX object push
	"112f": model.TypePhone,    // phonebook access
	"111f": model.TypeVehicle,  // handsfree audio gateway (carkits)
	"1132": model.TypePhone,    // message access server
	"1204": model.TypePhone,    // generic telephony
	"1118": model.TypePrinter,  // direct printing
	"1126": model.TypePrinter,  // hardcopy cable replacement
	"183b": model.TypeSmart,    // binary sensor
	"1815": model.TypeSmart,    // automation IO
	"1819": model.TypeSmart,    // location and navigation
	"181a": model.TypeSmart,    // environmental sensing
	"111b": model.TypeCamera,   // basic imaging responder
}

// serviceNames is the human-readable catalogue exposed on device detail reads.
var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery",
	"1812": "HID",
	"1814": "Running Speed",
	"1816": "Cycling Speed",
	"1819": "Location",
	"181a": "Environmental Sensing",
	"1826": "Fitness Machine",
	"1844": "Volume Control",
	"110a": "Audio Source",
	"110b": "Audio Sink",
	"1105": "Object Push",
	"1108": "Headset",
	"1118": "Direct Printing",
	"111b": "Imaging Responder",
	"111e": "Handsfree",
	"111f": "Handsfree Gateway",
	"1124": "HID",
	"1126": "Hardcopy Print",
	"112f": "Phonebook Access",
	"1132": "Message Access",
	"1203": "Generic Audio",
	"1204": "Generic Telephony",
	"1815": "Automation IO",
	"183b": "Binary Sensor",
}

type rule struct {
	pattern string
	label   model.DeviceType
}

// Name fragments advertised by common products. Evaluated in order; first
// match wins, so more specific fragments come before generic ones.
var namePatterns = []rule{
	{"iphone", model.TypePhone},
	{"pixel", model.TypePhone},
	{"galaxy z", model.TypePhone},
	{"galaxy s", model.TypePhone},
	{"android", model.TypePhone},
	{"oneplus", model.TypePhone},
	{"ipad", model.TypeTablet},
	{"tablet", model.TypeTablet},
	{"galaxy tab", model.TypeTablet},
	{"macbook", model.TypeLaptop},
	{"thinkpad", model.TypeLaptop},
	{"xps", model.TypeLaptop},
	{"laptop", model.TypeLaptop},
	{"imac", model.TypeComputer},
	{"mac mini", model.TypeComputer},
	{"mac pro", model.TypeComputer},
	{"desktop", model.TypeComputer},
	{"apple watch", model.TypeWatch},
	{"galaxy watch", model.TypeWatch},
	{"mi band", model.TypeWatch},
	{"watch", model.TypeWatch},
	{"band", model.TypeWatch},
	{"airpod", model.TypeAudio},
	{"earbuds", model.TypeAudio},
	{"buds", model.TypeAudio},
	{"headphone", model.TypeAudio},
	{"wh-1000", model.TypeAudio},
	{"homepod", model.TypeSpeaker},
	{"echo", model.TypeSpeaker},
	{"speaker", model.TypeSpeaker},
	{"soundbar", model.TypeSpeaker},
	{"chromecast", model.TypeTV},
	{"firestick", model.TypeTV},
	{"roku", model.TypeTV},
	{"bravia", model.TypeTV},
	{"[tv]", model.TypeTV},
	{" tv", model.TypeTV},
	{"model 3", model.TypeVehicle},
	{"model y", model.TypeVehicle},
	{"model s", model.TypeVehicle},
	{"model x", model.TypeVehicle},
	{"carplay", model.TypeVehicle},
	{"vehicle", model.TypeVehicle},
	{"car ", model.TypeVehicle},
	{"nintendo", model.TypeGaming},
	{"dualshock", model.TypeGaming},
	{"dualsense", model.TypeGaming},
	{"xbox", model.TypeGaming},
	{"gopro", model.TypeCamera},
	{"printer", model.TypePrinter},
}

// Vendor patterns, matched case-insensitively against the resolved OUI vendor
// string. Ordering matters: the most common disambiguations come first.
var vendorPatterns = []rule{
	{"apple", model.TypePhone},
	{"samsung electronics", model.TypePhone},
	{"xiaomi", model.TypePhone},
	{"huawei", model.TypePhone},
	{"oneplus", model.TypePhone},
	{"oppo", model.TypePhone},
	{"vivo", model.TypePhone},
	{"realme", model.TypePhone},
	{"motorola", model.TypePhone},
	{"nokia", model.TypePhone},
	{"lg electronics", model.TypePhone},
	{"zte", model.TypePhone},
	{"google", model.TypePhone},
	{"fairphone", model.TypePhone},

	{"dell", model.TypeLaptop},
	{"lenovo", model.TypeLaptop},
	{"hewlett packard", model.TypeLaptop},
	{"hp inc", model.TypeLaptop},
	{"asus", model.TypeLaptop},
	{"acer", model.TypeLaptop},
	{"microsoft", model.TypeComputer},
	{"intel corporate", model.TypeComputer},
	{"gigabyte", model.TypeComputer},
	{"msi", model.TypeComputer},

	{"bose", model.TypeAudio},
	{"sony", model.TypeAudio},
	{"sennheiser", model.TypeAudio},
	{"jabra", model.TypeAudio},
	{"beats", model.TypeAudio},
	{"skullcandy", model.TypeAudio},
	{"audio-technica", model.TypeAudio},
	{"plantronics", model.TypeAudio},
	{"anker", model.TypeAudio},
	{"jbl", model.TypeSpeaker},
	{"harman", model.TypeSpeaker},
	{"bang & olufsen", model.TypeSpeaker},
	{"sonos", model.TypeSpeaker},

	{"fitbit", model.TypeWatch},
	{"garmin", model.TypeWatch},
	{"polar", model.TypeWatch},
	{"suunto", model.TypeWatch},
	{"whoop", model.TypeWearable},
	{"oura", model.TypeWearable},

	{"amazon", model.TypeSmart},
	{"ring", model.TypeSmart},
	{"nest", model.TypeSmart},
	{"philips", model.TypeSmart},
	{"ikea", model.TypeSmart},
	{"tuya", model.TypeSmart},
	{"shelly", model.TypeSmart},
	{"switchbot", model.TypeSmart},
	{"aqara", model.TypeSmart},
	{"wyze", model.TypeSmart},
	{"eufy", model.TypeSmart},
	{"ecobee", model.TypeSmart},
	{"smartthings", model.TypeSmart},
	{"tp-link", model.TypeSmart},
	{"govee", model.TypeSmart},
	{"lifx", model.TypeSmart},
	{"nanoleaf", model.TypeSmart},
	{"yale", model.TypeSmart},
	{"august", model.TypeSmart},
	{"schlage", model.TypeSmart},

	{"roku", model.TypeTV},
	{"vizio", model.TypeTV},
	{"tcl", model.TypeTV},
	{"hisense", model.TypeTV},

	{"tesla", model.TypeVehicle},
	{"ford", model.TypeVehicle},
	{"volkswagen", model.TypeVehicle},
	{"bmw", model.TypeVehicle},
	{"mercedes", model.TypeVehicle},
	{"audi", model.TypeVehicle},
	{"toyota", model.TypeVehicle},
	{"honda", model.TypeVehicle},
	{"nissan", model.TypeVehicle},
	{"hyundai", model.TypeVehicle},
	{"kia", model.TypeVehicle},
	{"volvo", model.TypeVehicle},
	{"rivian", model.TypeVehicle},
	{"continental auto", model.TypeVehicle},
	{"bosch", model.TypeVehicle},
	{"denso", model.TypeVehicle},

	{"nintendo", model.TypeGaming},
	{"playstation", model.TypeGaming},
	{"valve", model.TypeGaming},
	{"razer", model.TypeGaming},
	{"steelseries", model.TypeGaming},
	{"logitech", model.TypeGaming},

	{"gopro", model.TypeCamera},
	{"canon", model.TypeCamera},
	{"nikon", model.TypeCamera},
	{"dji", model.TypeCamera},
	{"insta360", model.TypeCamera},

	{"epson", model.TypePrinter},
	{"brother", model.TypePrinter},
	{"xerox", model.TypePrinter},

	{"cisco", model.TypeNetwork},
	{"netgear", model.TypeNetwork},
	{"ubiquiti", model.TypeNetwork},
	{"aruba", model.TypeNetwork},
	{"linksys", model.TypeNetwork},
	{"eero", model.TypeNetwork},
}
