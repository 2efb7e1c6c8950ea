package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `Ok!`
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgCancelled     = "Cancelled."
	MsgUnknownInput  = "I didn't get that. Send a photo to analyze it, or use /start to see the menu."
	MsgVersionInfo   = "Version: %s\nBuilt: %s"
)

// =============================================================================
// Menu messages
// =============================================================================

const (
	MsgWelcomeLoggedOut = `
		Welcome to *%s*!

		Send a photo of your skin and I will analyze it for acne and other conditions.
		Log in with /login or create an account with /register to keep a history of your analyses.`
	MsgWelcomeLoggedIn = `
		%s

		Send a photo to analyze it, or open /dashboard to see your past analyses.`
)

// =============================================================================
// Login and registration messages
// =============================================================================

const (
	MsgLoginPromptUsername    = "Enter your username:"
	MsgLoginPromptPassword    = "Enter your password:"
	MsgLoginSuccess           = "Logged in as *%s*. Send a photo to analyze it."
	MsgLoginAlreadyLoggedIn   = "You are already logged in as *%s*. Use /logout first to switch accounts."
	MsgLoginRequired          = "Please log in first. Use /login"
	MsgLoginTimeout           = "Login timed out. Start again with /login"
	MsgAuthCancelled          = "Login cancelled."
	MsgAuthInProgress         = "Login in progress. Enter the requested value or cancel with /cancel"
	MsgRegisterPromptUsername = "Choose a username (at least 3 characters):"
	MsgRegisterPromptEmail    = "Enter your email address:"
	MsgRegisterPromptPassword = "Choose a password (at least 6 characters):"
	MsgRegisterSuccess        = "Registration successful. Please log in with /login"
	MsgRegisterTimeout        = "Registration timed out. Start again with /register"
	MsgLogoutSuccess          = "You are logged out."
	MsgNotLoggedIn            = "You are not logged in."
	MsgSessionExpired         = "Your session has expired. Please log in again with /login"
)

// =============================================================================
// Analyze messages
// =============================================================================

const (
	MsgAnalyzePrompt    = "Send a clear, well lit photo of your skin. You can send it as a photo or as an image file."
	MsgPhotoReady       = "Photo ready (%s). Tap *Analyze* to check it."
	MsgAnalyzing        = "Analyzing..."
	MsgDownloadFailed   = "Could not download the photo. Please try again."
	MsgNotAnImage       = "Please send a JPEG, PNG or GIF image."
	MsgNoPendingResults = "There are no new results to show."
	MsgCaptureReset     = "Photo discarded. Send another one when you are ready."
	MsgAnonymousNote    = "_Log in with /login to save your analyses._"
)

// =============================================================================
// Results messages
// =============================================================================

const (
	MsgResultsHeader = `
		%s *Skin score: %s*
		Severity: %s
		Acne count: %s`
	MsgResultsNoConcerns      = "No skin concerns detected."
	MsgResultsConditions      = "*Detected conditions*"
	MsgResultsFeedback        = "*Feedback*"
	MsgResultsRecommendations = "*Recommendations*"
	MsgResultsImage           = "Annotated image: %s"
)

// =============================================================================
// Dashboard messages
// =============================================================================

const (
	MsgDashboardHeader = `
		*Your analyses*
		Total: %s`
	MsgDashboardLatest    = "Latest: %s (%s)"
	MsgDashboardEmpty     = "You have no analyses yet. Send a photo to get started."
	MsgDashboardTruncated = "_Showing the %d most recent._"
	MsgDeleteConfirm      = "Delete analysis from %s (score %s)? This cannot be undone."
	MsgDeleteSuccess      = "Analysis deleted."
	MsgDeletePending      = "Delete already in progress."
	MsgDeleteKept         = "Ok, nothing was deleted."
	MsgRecordNotFound     = "That analysis no longer exists."
)

// =============================================================================
// Button labels
// =============================================================================

const (
	BtnAnalyze       = "Analyze"
	BtnChooseAnother = "Choose different photo"
	BtnOpen          = "Open"
	BtnDelete        = "🗑"
	BtnConfirmDelete = "Yes, delete"
	BtnKeep          = "Cancel"
	BtnDashboard     = "Back to dashboard"
)
