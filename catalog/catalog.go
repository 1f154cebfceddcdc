/*
Package catalog provides the built-in content of a fresh park.

PURPOSE:
  When a collection has never been persisted, the repository substitutes the
  defaults defined here. The theme list is fixed: a theme selection must name
  one of these ids or it falls back to the first one.

AVAILABLE DEFAULTS:
  DefaultActions:   Six starter rules, three that grant and three that deduct
  DefaultShopItems: Three starter rewards with limited stock
  Themes:           Nine visual themes (dark first, then light)
  Icons:            The preset icon set offered by the icon picker

FRESH COPIES:
  DefaultActions and DefaultShopItems return a new slice on every call, so
  callers may hand them to the ledger without aliasing the package state.

SEE ALSO:
  - repository/repository.go: Substitutes these on first run
  - icon/: Classifies icon references against Icons
*/
package catalog

import (
	"slices"

	"github.com/warp/points-park/points"
)

// =============================================================================
// DEFAULT RULES AND SHOP
// =============================================================================

var defaultActions = []points.PointAction{
	{ID: "1", Name: "Read a book", Points: 10, Type: points.ActionAdd, Icon: "📚"},
	{ID: "2", Name: "Helped someone", Points: 15, Type: points.ActionAdd, Icon: "🤝"},
	{ID: "3", Name: "Kept up exercise", Points: 20, Type: points.ActionAdd, Icon: "⚔️"},
	{ID: "4", Name: "Sneaked sweets", Points: 5, Type: points.ActionSubtract, Icon: "🍬"},
	{ID: "5", Name: "Stayed up late", Points: 15, Type: points.ActionSubtract, Icon: "🌙"},
	{ID: "6", Name: "Lost temper", Points: 25, Type: points.ActionSubtract, Icon: "🔥"},
}

var defaultShopItems = []points.ShopItem{
	{ID: "s1", Name: "Magic potion", Cost: 100, Icon: "🧪", Stock: 5},
	{ID: "s2", Name: "Legendary sword", Cost: 500, Icon: "🗡️", Stock: 1},
	{ID: "s3", Name: "Baby fire dragon", Cost: 2000, Icon: "🐉", Stock: 1},
}

// DefaultActions returns the starter rule catalog.
func DefaultActions() []points.PointAction {
	return slices.Clone(defaultActions)
}

// DefaultShopItems returns the starter shop inventory.
func DefaultShopItems() []points.ShopItem {
	return slices.Clone(defaultShopItems)
}

// =============================================================================
// THEMES
// =============================================================================

// Theme is a named color palette. Purely cosmetic.
type Theme struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Bg        string `json:"bg"`
	Glass     string `json:"glass"`
	Glow      string `json:"glow"`
	Text      string `json:"text"`
}

var themes = []Theme{
	{ID: "midnight", Name: "Midnight Depths", Primary: "#9333ea", Secondary: "#2563eb", Bg: "#0f172a", Glass: "rgba(30, 41, 59, 0.7)", Glow: "rgba(139, 92, 246, 0.5)", Text: "#f8fafc"},
	{ID: "emerald", Name: "Emerald Forest", Primary: "#059669", Secondary: "#0891b2", Bg: "#064e3b", Glass: "rgba(6, 78, 59, 0.6)", Glow: "rgba(16, 185, 129, 0.4)", Text: "#ecfdf5"},
	{ID: "inferno", Name: "Inferno", Primary: "#dc2626", Secondary: "#ea580c", Bg: "#450a0a", Glass: "rgba(69, 10, 10, 0.6)", Glow: "rgba(239, 68, 68, 0.4)", Text: "#fef2f2"},
	{ID: "royal", Name: "Royal Sanctum", Primary: "#d97706", Secondary: "#ca8a04", Bg: "#1e1b4b", Glass: "rgba(30, 27, 75, 0.7)", Glow: "rgba(245, 158, 11, 0.3)", Text: "#fffbeb"},
	{ID: "frozen", Name: "Frozen Plains", Primary: "#2563eb", Secondary: "#0ea5e9", Bg: "#082f49", Glass: "rgba(8, 47, 73, 0.6)", Glow: "rgba(14, 165, 233, 0.4)", Text: "#f0f9ff"},
	{ID: "clouds", Name: "Above the Clouds", Primary: "#3b82f6", Secondary: "#60a5fa", Bg: "#f8fafc", Glass: "rgba(255, 255, 255, 0.8)", Glow: "rgba(59, 130, 246, 0.2)", Text: "#1e293b"},
	{ID: "sakura", Name: "Sakura Valley", Primary: "#ec4899", Secondary: "#f43f5e", Bg: "#fff1f2", Glass: "rgba(255, 255, 255, 0.8)", Glow: "rgba(236, 72, 153, 0.2)", Text: "#881337"},
	{ID: "dawn", Name: "Temple of Dawn", Primary: "#f59e0b", Secondary: "#fbbf24", Bg: "#fffbeb", Glass: "rgba(255, 255, 255, 0.8)", Glow: "rgba(245, 158, 11, 0.2)", Text: "#78350f"},
	{ID: "pearl", Name: "Moonstone Altar", Primary: "#6366f1", Secondary: "#a855f7", Bg: "#f5f3ff", Glass: "rgba(255, 255, 255, 0.8)", Glow: "rgba(99, 102, 241, 0.2)", Text: "#4c1d95"},
}

// DefaultThemeID is the theme used when none, or an unknown one, is selected.
var DefaultThemeID = themes[0].ID

// Themes returns the enumerated themes in display order.
func Themes() []Theme {
	return slices.Clone(themes)
}

// LookupTheme finds a theme by id.
func LookupTheme(id string) (Theme, bool) {
	i := slices.IndexFunc(themes, func(t Theme) bool { return t.ID == id })
	if i < 0 {
		return Theme{}, false
	}
	return themes[i], true
}

// ResolveThemeID returns id if it names a known theme, otherwise the default.
func ResolveThemeID(id string) string {
	if _, ok := LookupTheme(id); ok {
		return id
	}
	return DefaultThemeID
}

// =============================================================================
// PRESET ICONS
// =============================================================================

var icons = []string{
	"⚔️", "🛡️", "🏹", "🪄", "🧪", "🔮", "📜", "🗺️", "🗝️", "💎", "👑", "🏰", "🏔️", "🌋", "🌲", "🐉", "🦄", "🐺", "🦁", "🦉", "🦅",
	"🧙", "🧛", "🧜", "🧝", "🧞", "🧟", "👹", "👺", "👻", "💀", "👽", "🤖", "🎃", "🕯️", "⛓️", "⚰️", "⚱️", "🧿", "📿", "🏺", "🏮", "🎁", "🧧",
	"🏆", "🥇", "🥈", "🥉", "🏅", "🎖️", "🎗️", "🎫", "🎭", "🎨", "🎬", "🎤", "🎧", "🎹", "🎸", "🎻", "🎷", "🎺", "🪕",
	"🎲", "🎯", "🎳", "🎮", "🎰", "🧩", "🪁", "🏸", "🎾", "⚽", "🏀", "🏐", "🏈", "🏉", "⚾", "🥎", "🥏",
	"📚", "📖", "📒", "📔", "📓", "📄", "📅", "📍", "🔔", "📣", "🔋", "🛠️", "💊", "🩸", "🛒", "🛍️", "🧴", "🧹", "🧼",
	"❤️", "✨", "🌟", "🔥", "💧", "⚡", "🌈", "☀️", "🌙", "☁️", "❄️", "💤", "💢", "💭", "💬", "🔕", "✅", "❌", "⚠️",
	"🍀", "🌿", "🍄", "🍎", "🍓", "🍇", "🍉", "🍕", "🍔", "🍟", "🍦", "🍩", "🍬", "🍭", "🍺", "🍷", "☕", "🍵", "🍼",
	"🤝",
}

// Icons returns the preset icon set.
func Icons() []string {
	return slices.Clone(icons)
}

// IsPresetIcon reports whether ref is one of the preset icons.
func IsPresetIcon(ref string) bool {
	return slices.Contains(icons, ref)
}
