package conversation

// User-facing texts. The bot talks Romanian; the idle reminder and expiry
// notices default to the config package's English texts.
const (
	startCommand = "/start"
	yesToken     = "da"
	noToken      = "nu"

	msgSendStart     = "Va rugam sa trimiteti /start pentru a incepe."
	msgWelcome       = "Bun venit, %s! Numarul dumneavoastra de telefon a fost verificat. Va rugam sa trimiteti comanda."
	msgPhoneNotFound = "Numarul de telefon nu a fost identificat in baza noastra de date. Va rugam sa introduceti codul fiscal. (Exemplu: ROXXXXXXX sau XXXXXXX)."
	msgVATNotFound   = "Codul fiscal nu a fost gasit in baza noastra de date. Va rugam sa introduceti un cod fiscal valid."
	msgSessionClosed = "Aceasta sesiune a fost inchisa. Va rugam sa trimiteti un mesaj cu /start pentru a incepe o noua sesiune."

	msgOrderError       = "Eroare la procesarea comenzii"
	msgOrderErrorDetail = "\n\nDetalii: %s"
	msgPartialPrompt    = "\n\nConfirmati comanda pentru produsele disponibile? (da/nu)"
	msgValidationFailed = "Problemă cu comanda: %s. Vă rugăm să încercați din nou."
	msgNoItems          = "Nu am putut procesa comanda. Va rugam sa incercati din nou cu produse disponibile."
	msgManualFallback   = "Nu am putut procesa automat comanda: \"%s\".\n\nDoriti sa trimitem comanda pentru procesare manuala? (da/nu)"

	msgConfirmed        = "Comanda dumneavoastra a fost confirmata si va fi procesata. Va multumim!"
	msgPartialConfirmed = "Comanda partiala confirmata si va fi procesata. Va multumim!"
	msgPartialNote      = "\n\nNota: Produsele indisponibile nu au fost incluse in comanda."
	msgCancelled        = "Comanda dumneavoastra a fost anulata. Va rugam sa trimiteti o noua comanda."
	msgAnswerYesNo      = "Va rugam sa raspundeti cu 'da' sau 'nu'."

	msgUnknownState    = "A apărut o eroare. Vă rugăm să începeți din nou cu /start."
	msgProcessingError = "A apărut o eroare în procesarea solicitării dumneavoastră. Vă rugăm să încercați din nou mai târziu."
)
