package pop3

// English is the default response table.
var English = mustLanguage("en", "English", map[MessageKey]string{
	MsgGreeting:              "%s at your service, %s",
	MsgQuit:                  "%s signing off.",
	MsgCapabilities:          "capabilities follow.",
	MsgUserAccepted:          "user '%s' accepted, proceed with PASS.",
	MsgUserRejected:          "user rejected.",
	MsgUserAlreadyGiven:      "USER already executed, follow with PASS.",
	MsgExecuteFirst:          "command %s must be executed before %s.",
	MsgPassAccepted:          "pass accepted, welcome '%s'.",
	MsgPassRejected:          "pass rejected.",
	MsgPermissionDenied:      "permission denied.",
	MsgMaildropReady:         "maildrop has %d messages (%d octets).",
	MsgInUse:                 "do you have another POP session running?",
	MsgListFollows:           "%d messages (%d octets).",
	MsgUIDLFollows:           "mailbox listing follows.",
	MsgRetrOctets:            "%d octets.",
	MsgTopFollows:            "top of message follows.",
	MsgDeleted:               "message %d deleted.",
	MsgAlreadyDeleted:        "message %d already deleted.",
	MsgMessageDeleted:        "message %d has been deleted.",
	MsgReset:                 "maildrop has %d messages (%d octets).",
	MsgLangList:              "language listing follows.",
	MsgLangChanged:           "changing language to '%s'.",
	MsgInvalidLanguage:       "invalid language '%s'.",
	MsgInvalidState:          "%s command may only be executed in the %s state.",
	MsgInvalidParams:         "%s requires exactly %d parameter(s).",
	MsgInvalidParamsOptional: "%s accepts at most %d parameter(s).",
	MsgInvalidArgument:       "invalid argument '%s'.",
	MsgNotImplemented:        "command %s is not implemented.",
	MsgNoSuchMessage:         "no such message, only %d messages in maildrop.",
	MsgInvalidCommand:        "invalid command.",
	MsgTooManyInvalid:        "too many invalid commands, closing connection.",
	MsgIdleTimeout:           "idle timeout, please reconnect.",
	MsgShutdown:              "server shutting down, please reconnect.",
})

// Dutch response table.
var Dutch = mustLanguage("nl", "Nederlands", map[MessageKey]string{
	MsgGreeting:              "%s staat tot uw dienst, %s",
	MsgQuit:                  "%s meldt zich af.",
	MsgCapabilities:          "mogelijkheden volgen.",
	MsgUserAccepted:          "gebruiker '%s' geaccepteerd, ga verder met PASS.",
	MsgUserRejected:          "gebruiker geweigerd.",
	MsgUserAlreadyGiven:      "USER is al uitgevoerd, ga verder met PASS.",
	MsgExecuteFirst:          "opdracht %s moet worden uitgevoerd voor %s.",
	MsgPassAccepted:          "wachtwoord geaccepteerd, welkom '%s'.",
	MsgPassRejected:          "wachtwoord geweigerd.",
	MsgPermissionDenied:      "toegang geweigerd.",
	MsgMaildropReady:         "postbus bevat %d berichten (%d octets).",
	MsgInUse:                 "heeft u nog een andere POP-sessie open?",
	MsgListFollows:           "%d berichten (%d octets).",
	MsgUIDLFollows:           "overzicht van de postbus volgt.",
	MsgRetrOctets:            "%d octets.",
	MsgTopFollows:            "begin van het bericht volgt.",
	MsgDeleted:               "bericht %d verwijderd.",
	MsgAlreadyDeleted:        "bericht %d is al verwijderd.",
	MsgMessageDeleted:        "bericht %d is verwijderd.",
	MsgReset:                 "postbus bevat %d berichten (%d octets).",
	MsgLangList:              "overzicht van talen volgt.",
	MsgLangChanged:           "taal wordt gewijzigd naar '%s'.",
	MsgInvalidLanguage:       "ongeldige taal '%s'.",
	MsgInvalidState:          "opdracht %s kan alleen worden uitgevoerd in de toestand %s.",
	MsgInvalidParams:         "%s vereist precies %d parameter(s).",
	MsgInvalidParamsOptional: "%s accepteert hoogstens %d parameter(s).",
	MsgInvalidArgument:       "ongeldig argument '%s'.",
	MsgNotImplemented:        "opdracht %s is niet geïmplementeerd.",
	MsgNoSuchMessage:         "bericht bestaat niet, de postbus bevat slechts %d berichten.",
	MsgInvalidCommand:        "Ongeldige opdracht.",
	MsgTooManyInvalid:        "te veel ongeldige opdrachten, verbinding wordt verbroken.",
	MsgIdleTimeout:           "verbinding te lang inactief, maak opnieuw verbinding.",
	MsgShutdown:              "server wordt afgesloten, maak later opnieuw verbinding.",
})
