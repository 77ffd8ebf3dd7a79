package conversation

// Payload identifies a postback button.
type Payload string

const (
	PayloadReport  Payload = "new_pin"
	PayloadContact Payload = "contact_us"
	PayloadEnglish Payload = "english"
	PayloadThai    Payload = "thai"
)

// ReplyPayload identifies the control quick replies. Category quick replies
// carry the category name instead.
type ReplyPayload string

const (
	ReplyDone ReplyPayload = "isEnding"
	ReplySkip ReplyPayload = "isSkipping"
)

// Category is one of the fixed issue categories offered as quick replies.
type Category string

const (
	CategoryRepair     Category = "repair"
	CategoryService    Category = "service"
	CategoryIT         Category = "it"
	CategorySuggestion Category = "suggestion"
	CategoryClassroom  Category = "classroom"
	CategorySafety     Category = "safety"
	CategorySanitary   Category = "sanitary"
	CategoryTraffic    Category = "traffic"
	CategoryOthers     Category = "others"
)

// Categories lists the categories in display order.
func Categories() []Category {
	return []Category{
		CategoryRepair,
		CategoryService,
		CategoryIT,
		CategorySuggestion,
		CategoryClassroom,
		CategorySafety,
		CategorySanitary,
		CategoryTraffic,
		CategoryOthers,
	}
}

// IsCategory reports whether payload names one of the fixed categories.
func IsCategory(payload string) bool {
	for _, c := range Categories() {
		if string(c) == payload {
			return true
		}
	}
	return false
}

// pinnedLocationTitles are the default titles a client gives a dropped pin.
var pinnedLocationTitles = map[string]struct{}{
	"Pinned Location":             {},
	"ตำแหน่งที่ตั้งที่ปักหมุดไว้": {},
}
