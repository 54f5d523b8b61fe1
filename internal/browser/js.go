package browser

// feedSelector is the stable accessibility landmark of the group feed. It is
// the only selector the crawl loop waits on; everything below it is scanned
// heuristically.
const feedSelector = `div[role="feed"]`

// collectCandidatesJS scans direct children of the feed region, tags each
// unprocessed one with a data-pipfox-id attribute and returns the
// classification signals plus the extracted content as a JSON array. Nodes
// already carrying data-pipfox-seen are skipped. The exclusion strings mirror
// the classifier constants.
const collectCandidatesJS = `(() => {
	const feed = document.querySelector('div[role="feed"]');
	if (!feed) {
		return [];
	}
	const out = [];
	let seq = Date.now();
	for (const node of feed.children) {
		if (node.hasAttribute('data-pipfox-seen')) {
			continue;
		}
		if (!node.hasAttribute('data-pipfox-id')) {
			node.setAttribute('data-pipfox-id', 'pf-' + (seq++).toString(36) + '-' + out.length);
		}

		const exclusions = [];
		if (node.closest('div[role="dialog"]')) {
			exclusions.push('dialog_container');
		}
		if (node.querySelector('a[href*="/stories/"], a[aria-label*="tory"]')) {
			exclusions.push('story_container');
		}
		if (node.querySelector('a[href*="/reel/"], a[href*="/reels/"]')) {
			exclusions.push('reel_container');
		}
		if (node.querySelector('div[aria-label*="omment by"], div[aria-label*="eply by"]')) {
			exclusions.push('comment_label');
		}
		if (node.querySelector('a[href*="comment_id="]')) {
			exclusions.push('comment_link');
		}

		const toolbar = !!node.querySelector(
			'div[role="toolbar"], div[aria-label="Like"], span[data-ad-rendering-role="like_button"]');

		const timeLink = node.querySelector(
			'a[href*="/posts/"] span, a[href*="/permalink/"] span, a[aria-label][href*="/posts/"], a[aria-label][href*="/permalink/"]');
		const timestamp = !!timeLink;

		let text = '';
		for (const sel of ['div[data-ad-preview="message"]', 'div[dir="auto"]', 'span[dir="auto"]']) {
			for (const el of node.querySelectorAll(sel)) {
				const t = (el.innerText || '').trim();
				if (t.length > text.length) {
					text = t;
				}
			}
			if (text) {
				break;
			}
		}

		const permalink = node.querySelector('a[href*="/posts/"], a[href*="/permalink/"]');
		const author = node.querySelector('h3 a, h2 a, strong a, a[role="link"][tabindex="0"]');

		const images = [];
		for (const img of node.querySelectorAll('img')) {
			const src = img.currentSrc || img.src || '';
			if (src.startsWith('http') && img.width > 80 && img.height > 80) {
				images.push(src);
			}
		}

		const abbr = node.querySelector('abbr[data-utime]');
		const postedAt = abbr ? abbr.getAttribute('data-utime') :
			(timeLink && timeLink.getAttribute ? (timeLink.getAttribute('aria-label') || '') : '');

		out.push({
			id: node.getAttribute('data-pipfox-id'),
			toolbar: toolbar,
			timestamp: timestamp,
			textLength: text.length,
			exclusions: exclusions,
			url: permalink ? permalink.href.split('?')[0] : '',
			author: author ? (author.innerText || '').trim() : '',
			text: text,
			images: images,
			postedAt: postedAt || '',
			fromModal: !!node.closest('div[role="dialog"]'),
		});
	}
	return out;
})()`

// markSeenJS flags processed nodes so the next scan skips them. The %s
// placeholder receives a JSON array of data-pipfox-id values.
const markSeenJS = `((ids) => {
	for (const id of ids) {
		const node = document.querySelector('[data-pipfox-id="' + id + '"]');
		if (node) {
			node.setAttribute('data-pipfox-seen', '1');
		}
	}
	return ids.length;
})(%s)`

// contentHeightJS measures the scrollable document height.
const contentHeightJS = `document.documentElement ? document.documentElement.scrollHeight : 0`

// groupNameJS resolves the human-readable group name from the page header,
// falling back to the document title with Facebook chrome stripped.
const groupNameJS = `(() => {
	const header = document.querySelector('h1 a, h1 span');
	if (header && header.innerText) {
		return header.innerText.trim();
	}
	return (document.title || '').replace(/\s*\|\s*Facebook\s*$/, '').trim();
})()`

// composerSelector matches the inline comment composer on a post page.
const composerSelector = `div[contenteditable="true"][role="textbox"]`
